// Package util carries the small logging helpers the binaries and
// tests share.
package util

import (
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"runtime/debug"
	"time"
)

// PanicSafeLogger tees the standard logger into a file that can still
// be flushed while a panic unwinds, so the tail of a crashing run is
// not lost with the process.
type PanicSafeLogger struct {
	f  *os.File
	mw io.Writer
}

var std *PanicSafeLogger

func NewPanicSafeLogger(f *os.File) *PanicSafeLogger {
	std = &PanicSafeLogger{
		f:  f,
		mw: io.MultiWriter(f, os.Stderr),
	}
	return std
}

// OpenLogFile starts teeing the standard logger into a timestamped
// file under the system temp directory and returns its path.
func OpenLogFile(prefix string) (string, error) {
	ts := time.Now().Format("2006-01-02T15-04-05")
	path := filepath.Join(os.TempDir(), fmt.Sprintf("%s-%s.log", prefix, ts))
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return "", err
	}
	log.SetOutput(NewPanicSafeLogger(f))
	return path, nil
}

func (l *PanicSafeLogger) Write(p []byte) (n int, err error) {
	return l.mw.Write(p)
}

func (l *PanicSafeLogger) Flush() error {
	return l.f.Sync()
}

func FlushLogger() error {
	if std == nil {
		return nil
	}
	return std.Flush()
}

// LogPanic records a recovered panic value with its stack, then
// flushes.
func LogPanic(err any) {
	log.Printf("paniced with %v\n%s\n", err, string(debug.Stack()))
	_ = FlushLogger()
}
