// Package monitoring provides the three log streams used across the
// sensitivity tool. Each stream is a *log.Logger that can be redirected or
// muted independently.
//
//   - ops: lifecycle events, warnings, errors (always worth reading)
//   - diag: per-trial parameter and metric context
//   - trace: per-phase timing and simulation output
package monitoring

import (
	"io"
	"log"
	"os"
	"sync"
)

const prefix = "[sensitivity] "

// LogWriters holds the io.Writers for each logging stream.
type LogWriters struct {
	Ops   io.Writer
	Diag  io.Writer
	Trace io.Writer
}

var (
	mu          sync.RWMutex
	opsLogger   = newLogger(os.Stderr)
	diagLogger  = newLogger(os.Stderr)
	traceLogger *log.Logger
)

// SetLogWriters configures all three logging streams at once.
// Pass nil for any writer to disable that stream.
func SetLogWriters(w LogWriters) {
	mu.Lock()
	defer mu.Unlock()
	opsLogger = newLogger(w.Ops)
	diagLogger = newLogger(w.Diag)
	traceLogger = newLogger(w.Trace)
}

// Mute disables every stream. Tests call it to keep output quiet.
func Mute() {
	SetLogWriters(LogWriters{})
}

func newLogger(w io.Writer) *log.Logger {
	if w == nil {
		return nil
	}
	return log.New(w, prefix, log.LstdFlags|log.Lmicroseconds)
}

// Opsf logs to the ops stream.
func Opsf(format string, args ...interface{}) {
	logTo(&opsLogger, format, args...)
}

// Diagf logs to the diag stream.
func Diagf(format string, args ...interface{}) {
	logTo(&diagLogger, format, args...)
}

// Tracef logs to the trace stream.
func Tracef(format string, args ...interface{}) {
	logTo(&traceLogger, format, args...)
}

func logTo(target **log.Logger, format string, args ...interface{}) {
	mu.RLock()
	l := *target
	mu.RUnlock()
	if l != nil {
		l.Printf(format, args...)
	}
}

// TraceWriter returns the trace stream's writer, or io.Discard when the
// stream is muted. Used to pipe simulation stdout/stderr.
func TraceWriter() io.Writer {
	mu.RLock()
	defer mu.RUnlock()
	if traceLogger == nil {
		return io.Discard
	}
	return traceLogger.Writer()
}
