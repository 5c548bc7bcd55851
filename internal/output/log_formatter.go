package output

import (
	"github.com/mrzor/fiberstate/internal/threadstate"
	"go.uber.org/zap"
)

// LogFormatter writes one log line per context start and end.
type LogFormatter struct {
	logger   *zap.Logger
	renderer *Renderer
}

// NewLogFormatter creates a new LogFormatter.
func NewLogFormatter(logger *zap.Logger, renderer *Renderer) *LogFormatter {
	return &LogFormatter{logger: logger, renderer: renderer}
}

func (f *LogFormatter) HandleContextStart(c *threadstate.Context) error {
	f.logger.Info("context start",
		zap.Uint32("thread", c.ThreadID),
		zap.String("addr", hexAddr(c.Addr)),
		zap.Int("size", c.Size),
		zap.Any("context", f.renderer.Render(c.Pairs)),
	)
	return nil
}

func (f *LogFormatter) HandleContextEnd(c *threadstate.Context, issues []string) error {
	fields := []zap.Field{
		zap.Uint32("thread", c.ThreadID),
		zap.String("addr", hexAddr(c.Addr)),
		zap.Duration("duration", c.Duration()),
	}
	if len(issues) > 0 {
		fields = append(fields, zap.Strings("issues", issues))
	}
	f.logger.Info("context end", fields...)
	return nil
}
