// Package descriptor reads and writes the TOML file that tells an external
// reader where a process publishes its states and how to decode them.
package descriptor

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"

	"github.com/BurntSushi/toml"
	"github.com/mrzor/fiberstate/state"
)

// ErrIncompatible is returned for descriptors of another layout.
var ErrIncompatible = errors.New("incompatible descriptor")

// Thread is one published thread.
type Thread struct {
	ID   uint32 `toml:"id"`
	Cell uint64 `toml:"cell"`
}

// Descriptor describes one writing process.
type Descriptor struct {
	Pid        int    `toml:"pid"`
	ABIVersion int    `toml:"abi_version"`
	HeaderSize int    `toml:"header_size"`
	PairSize   int    `toml:"pair_size"`
	BPFPin     string `toml:"bpf_pin,omitempty"`

	Threads []Thread `toml:"threads"`

	// Symbols maps a key id, in decimal, to its name.
	Symbols map[string]string `toml:"symbols"`
}

// New returns a descriptor for pid with the current layout.
func New(pid int) *Descriptor {
	return &Descriptor{
		Pid:        pid,
		ABIVersion: state.ABIVersion,
		HeaderSize: state.HeaderSize,
		PairSize:   state.PairSize,
		Symbols:    make(map[string]string),
	}
}

// AddThread records a thread's cell address.
func (d *Descriptor) AddThread(id uint32, cell uint64) {
	d.Threads = append(d.Threads, Thread{ID: id, Cell: cell})
}

// SetSymbols replaces the symbol table.
func (d *Descriptor) SetSymbols(symbols map[uint32]string) {
	d.Symbols = make(map[string]string, len(symbols))
	for id, name := range symbols {
		d.Symbols[strconv.FormatUint(uint64(id), 10)] = name
	}
}

// SymbolNames returns the symbol table keyed by id. Entries whose key is not
// a decimal id are ignored.
func (d *Descriptor) SymbolNames() map[uint32]string {
	out := make(map[uint32]string, len(d.Symbols))
	for k, name := range d.Symbols {
		id, err := strconv.ParseUint(k, 10, 32)
		if err != nil {
			continue
		}
		out[uint32(id)] = name
	}
	return out
}

// Validate checks that the descriptor matches the layout this build reads.
func (d *Descriptor) Validate() error {
	if d.ABIVersion != state.ABIVersion {
		return fmt.Errorf("abi_version %d, expected %d: %w", d.ABIVersion, state.ABIVersion, ErrIncompatible)
	}
	if d.HeaderSize != state.HeaderSize || d.PairSize != state.PairSize {
		return fmt.Errorf("header_size %d pair_size %d, expected %d and %d: %w",
			d.HeaderSize, d.PairSize, state.HeaderSize, state.PairSize, ErrIncompatible)
	}
	if d.Pid <= 0 {
		return fmt.Errorf("invalid pid %d", d.Pid)
	}
	return nil
}

// Write stores d at path atomically.
func Write(path string, d *Descriptor) error {
	sort.Slice(d.Threads, func(i, j int) bool { return d.Threads[i].ID < d.Threads[j].ID })

	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(d); err != nil {
		return fmt.Errorf("encoding descriptor: %w", err)
	}

	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".*")
	if err != nil {
		return fmt.Errorf("creating temporary descriptor: %w", err)
	}
	defer func() {
		_ = os.Remove(tmp.Name()) //nolint:errcheck // Already renamed on success
	}()

	if _, err := tmp.Write(buf.Bytes()); err != nil {
		_ = tmp.Close() //nolint:errcheck // Best-effort cleanup in error path
		return fmt.Errorf("writing descriptor: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing descriptor: %w", err)
	}
	//nolint:gosec // Descriptor holds addresses only; readers may run as other users
	if err := os.Chmod(tmp.Name(), 0o644); err != nil {
		return fmt.Errorf("setting descriptor mode: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("installing descriptor: %w", err)
	}
	return nil
}

// Read loads and validates the descriptor at path.
func Read(path string) (*Descriptor, error) {
	var d Descriptor
	md, err := toml.DecodeFile(path, &d)
	if err != nil {
		return nil, fmt.Errorf("reading descriptor %s: %w", path, err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return nil, fmt.Errorf("descriptor %s has unknown key %q", path, undecoded[0].String())
	}
	if err := d.Validate(); err != nil {
		return nil, fmt.Errorf("descriptor %s: %w", path, err)
	}
	return &d, nil
}
