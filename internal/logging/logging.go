// Package logging configures the logrus logger shared by every component.
package logging

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"sync/atomic"

	"github.com/sirupsen/logrus"
)

// ComponentKey is the field naming the emitting component.
const ComponentKey = "component"

// Formatter prints "time level [Component] message key=value...".
type Formatter struct{}

func (f *Formatter) Format(entry *logrus.Entry) ([]byte, error) {
	var b bytes.Buffer
	b.WriteString(entry.Time.Format("15:04:05.000"))
	fmt.Fprintf(&b, " %-5.5s ", entry.Level.String())
	if c, ok := entry.Data[ComponentKey]; ok {
		fmt.Fprintf(&b, "[%v] ", c)
	}
	b.WriteString(entry.Message)
	for k, v := range entry.Data {
		if k == ComponentKey {
			continue
		}
		fmt.Fprintf(&b, " %s=%v", k, v)
	}
	b.WriteByte('\n')
	return b.Bytes(), nil
}

// New returns a logger writing to w, or stderr when w is nil.
func New(w io.Writer) *logrus.Logger {
	if w == nil {
		w = os.Stderr
	}
	log := logrus.New()
	log.SetOutput(w)
	log.SetFormatter(&Formatter{})
	log.SetLevel(logrus.InfoLevel)
	return log
}

// For returns an entry tagged with the component name.
func For(log *logrus.Logger, component string) *logrus.Entry {
	return log.WithField(ComponentKey, component)
}

// Discard returns a logger that drops everything. Tests use it.
func Discard() *logrus.Logger {
	return New(io.Discard)
}

type syncer interface {
	Sync() error
}

// flushWriter syncs the underlying writer after an entry that a
// flushHook marked as pending.
type flushWriter struct {
	w       io.Writer
	pending atomic.Bool
}

func (f *flushWriter) Write(p []byte) (int, error) {
	n, err := f.w.Write(p)
	if f.pending.Swap(false) {
		if s, ok := f.w.(syncer); ok {
			_ = s.Sync()
		}
	}
	return n, err
}

type flushHook struct {
	out *flushWriter
}

func (h *flushHook) Levels() []logrus.Level {
	return []logrus.Level{logrus.PanicLevel, logrus.FatalLevel, logrus.ErrorLevel}
}

func (h *flushHook) Fire(*logrus.Entry) error {
	h.out.pending.Store(true)
	return nil
}

// FlushOnError makes every error-level entry sync the logger output as
// soon as it is written. Calling it again is a no-op.
func FlushOnError(log *logrus.Logger) {
	if _, ok := log.Out.(*flushWriter); ok {
		return
	}
	fw := &flushWriter{w: log.Out}
	log.SetOutput(fw)
	log.AddHook(&flushHook{out: fw})
}
