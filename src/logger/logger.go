package logger

import (
	"fmt"
	"io"
	"os"
	"sync"
)

// Logger defines the interface for logging throughout the application.
// Different implementations can be used for different contexts (console, silent, etc.)
type Logger interface {
	Info(msg string, args ...interface{})
	Error(msg string, args ...interface{})
	Debug(msg string, args ...interface{})
}

// ConsoleLogger writes human-readable logs to stdout/stderr.
// Debug output is only written when verbose is set.
type ConsoleLogger struct {
	mu      sync.Mutex
	out     io.Writer
	err     io.Writer
	verbose bool
}

func NewConsoleLogger(verbose bool) *ConsoleLogger {
	return &ConsoleLogger{out: os.Stdout, err: os.Stderr, verbose: verbose}
}

// NewWriterLogger logs everything to w. Used by tests and the history file.
func NewWriterLogger(w io.Writer, verbose bool) *ConsoleLogger {
	return &ConsoleLogger{out: w, err: w, verbose: verbose}
}

func (c *ConsoleLogger) Info(msg string, args ...interface{}) {
	c.write(c.out, "[INFO] ", msg, args)
}

func (c *ConsoleLogger) Error(msg string, args ...interface{}) {
	c.write(c.err, "[ERROR] ", msg, args)
}

func (c *ConsoleLogger) Debug(msg string, args ...interface{}) {
	if !c.verbose {
		return
	}
	c.write(c.out, "[DEBUG] ", msg, args)
}

// Uploads and downloads log from several goroutines.
func (c *ConsoleLogger) write(w io.Writer, prefix, msg string, args []interface{}) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprintf(w, prefix+msg+"\n", args...)
}

// SilentLogger discards all log messages.
// Used when running in TUI mode or serving MCP over stdio, where log output
// would corrupt the display or the protocol stream.
type SilentLogger struct{}

func NewSilentLogger() *SilentLogger {
	return &SilentLogger{}
}

func (s *SilentLogger) Info(msg string, args ...interface{})  {}
func (s *SilentLogger) Error(msg string, args ...interface{}) {}
func (s *SilentLogger) Debug(msg string, args ...interface{}) {}
