// Package output provides formatters for observed context intervals.
//
// OTELFormatter is a pure formatting layer that:
//   - Receives context starts and ends from the eventprocessor
//   - Creates one OpenTelemetry span per interval
//   - Sets span attributes from the rendered pairs
//
// It does NOT:
//   - Read process memory
//   - Detect context changes
//   - Keep per-thread history beyond the open span
//
// Renderer decodes keys and values with the writer's symbol table, and
// custom attributes, trace ids and parent ids are computed by the
// attributes package. LogFormatter writes the same intervals through zap,
// and Multi fans them out to several formatters.
package output
