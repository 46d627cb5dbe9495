package logger

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"
	"time"
)

type Logger struct {
	service   string
	requestID string
	out       io.Writer
	mu        *sync.Mutex
}

func New(service string) *Logger { return NewWithWriter(service, os.Stdout) }

func NewWithWriter(service string, w io.Writer) *Logger {
	return &Logger{service: service, out: w, mu: &sync.Mutex{}}
}

// WithRequest returns a logger that stamps request_id on every entry.
func (l *Logger) WithRequest(id string) *Logger {
	if l == nil {
		return nil
	}
	c := *l
	c.requestID = id
	return &c
}

func (l *Logger) log(level, action, msg string, fields map[string]any, err error) {
	if l == nil {
		return
	}
	entry := map[string]any{
		"timestamp":  time.Now().UTC().Format(time.RFC3339Nano),
		"level":      level,
		"service":    l.service,
		"action":     action,
		"message":    msg,
		"hostname":   hostname(),
		"request_id": l.requestID,
	}
	for k, v := range fields {
		entry[k] = v
	}
	if err != nil {
		entry["error"] = map[string]any{"msg": err.Error(), "stack": fmt.Sprintf("%T", err)}
	}
	l.mu.Lock()
	_ = json.NewEncoder(l.out).Encode(entry)
	l.mu.Unlock()
}

func (l *Logger) Info(action string, fields map[string]any)             { l.log("INFO", action, action, fields, nil) }
func (l *Logger) Debug(action string, fields map[string]any)            { l.log("DEBUG", action, action, fields, nil) }
func (l *Logger) Warn(action string, err error, fields map[string]any)  { l.log("WARN", action, action, fields, err) }
func (l *Logger) Error(action string, err error, fields map[string]any) { l.log("ERROR", action, action, fields, err) }

var (
	hostOnce sync.Once
	host     string
)

func hostname() string {
	hostOnce.Do(func() { host, _ = os.Hostname() })
	return host
}
