package lg

import (
	"bytes"
	"strings"
	"sync"

	"go.uber.org/zap/zapcore"
)

// Writer turns everything written to it into log entries, one per line.
// Partial lines are held until a newline arrives or Flush is called.
type Writer struct {
	mu     sync.Mutex
	logger Logger
	level  zapcore.Level
	buf    bytes.Buffer
}

// NewWriter returns a Writer logging at level through logger.
func NewWriter(logger Logger, level zapcore.Level) *Writer {
	return &Writer{logger: logger, level: level}
}

func (w *Writer) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.buf.Write(p)
	for {
		line, err := w.buf.ReadString('\n')
		if err != nil {
			// no newline yet, put the fragment back
			w.buf.Reset()
			w.buf.WriteString(line)
			break
		}
		w.emit(line)
	}
	return len(p), nil
}

// Flush logs any buffered partial line.
func (w *Writer) Flush() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.buf.Len() > 0 {
		w.emit(w.buf.String())
		w.buf.Reset()
	}
}

func (w *Writer) emit(line string) {
	line = strings.TrimRight(line, "\r\n")
	if strings.TrimSpace(line) == "" {
		return
	}
	switch {
	case w.level >= zapcore.ErrorLevel:
		w.logger.Error(line)
	case w.level == zapcore.WarnLevel:
		w.logger.Warn(line)
	case w.level == zapcore.DebugLevel:
		w.logger.Debug(line)
	default:
		w.logger.Info(line)
	}
}
