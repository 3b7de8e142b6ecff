// Package testutil holds helpers shared by hivecore tests.
package testutil

import (
	"fmt"
	"strings"
	"sync"
	"time"
)

// FakeClock is a manually advanced clock.
type FakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func NewFakeClock(start time.Time) *FakeClock {
	return &FakeClock{now: start}
}

func (c *FakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *FakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// Entry is one recorded log line.
type Entry struct {
	Level string
	Msg   string
	Args  []interface{}
}

// Field returns the value logged under key.
func (e Entry) Field(key string) (interface{}, bool) {
	for i := 0; i+1 < len(e.Args); i += 2 {
		if k, ok := e.Args[i].(string); ok && k == key {
			return e.Args[i+1], true
		}
	}
	return nil, false
}

func (e Entry) String() string {
	return fmt.Sprintf("%s %s %v", e.Level, e.Msg, e.Args)
}

// Recorder is a logging.Logger that keeps every entry in memory.
type Recorder struct {
	mu      sync.Mutex
	entries []Entry
}

func (r *Recorder) record(level, msg string, args []interface{}) {
	r.mu.Lock()
	r.entries = append(r.entries, Entry{Level: level, Msg: msg, Args: args})
	r.mu.Unlock()
}

func (r *Recorder) Debug(msg string, args ...interface{}) { r.record("debug", msg, args) }
func (r *Recorder) Info(msg string, args ...interface{})  { r.record("info", msg, args) }
func (r *Recorder) Warn(msg string, args ...interface{})  { r.record("warn", msg, args) }
func (r *Recorder) Error(msg string, args ...interface{}) { r.record("error", msg, args) }

func (r *Recorder) Entries() []Entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Entry(nil), r.entries...)
}

// Find returns the entries at level whose message contains substr.
func (r *Recorder) Find(level, substr string) []Entry {
	var out []Entry
	for _, e := range r.Entries() {
		if e.Level == level && strings.Contains(e.Msg, substr) {
			out = append(out, e)
		}
	}
	return out
}
