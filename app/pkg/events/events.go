// Package events carries run logs and state changes from the checkout core to
// whoever observes it: the process log, the run transcript and UI consumers.
package events

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

type LogType string

const (
	LogInfo    LogType = "info"
	LogSuccess LogType = "success"
	LogError   LogType = "error"
)

type LogEntry struct {
	Timestamp time.Time `json:"timestamp"`
	Type      LogType   `json:"type"`
	Message   string    `json:"message"`
}

type Kind string

const (
	KindLog      Kind = "log"
	KindState    Kind = "task-state"
	KindComplete Kind = "complete"
)

// Event is the unit delivered to a Sink. Task is -1 outside of a fleet.
type Event struct {
	Kind      Kind      `json:"kind"`
	Task      int       `json:"task"`
	User      string    `json:"user,omitempty"`
	Log       *LogEntry `json:"log,omitempty"`
	State     string    `json:"state,omitempty"`
	Successes int       `json:"successes,omitempty"`
	Failures  int       `json:"failures,omitempty"`
}

// Sink receives events. It is called from the emitting goroutine and must not block for long.
type Sink func(Event)

func Discard(Event) {}

// Multi fans an event out to every non nil sink.
func Multi(sinks ...Sink) Sink {
	return func(ev Event) {
		for _, sink := range sinks {
			if sink != nil {
				sink(ev)
			}
		}
	}
}

// Recorder is the log of one run. Entries are kept as the transcript, mirrored
// to slog and forwarded to the sink.
type Recorder struct {
	task    int
	user    string
	sink    Sink
	entries []LogEntry
	mu      sync.Mutex
}

func NewRecorder(sink Sink, task int, user string) *Recorder {
	if sink == nil {
		sink = Discard
	}
	return &Recorder{task: task, user: user, sink: sink}
}

func (r *Recorder) Info(format string, args ...any) {
	r.record(LogInfo, fmt.Sprintf(format, args...))
}

func (r *Recorder) Success(format string, args ...any) {
	r.record(LogSuccess, fmt.Sprintf(format, args...))
}

func (r *Recorder) Error(format string, args ...any) {
	r.record(LogError, fmt.Sprintf(format, args...))
}

// State publishes a task state change.
func (r *Recorder) State(state string) {
	r.sink(Event{Kind: KindState, Task: r.task, User: r.user, State: state})
}

func (r *Recorder) Entries() []LogEntry {
	r.mu.Lock()
	defer r.mu.Unlock()

	return append([]LogEntry(nil), r.entries...)
}

func (r *Recorder) record(logType LogType, msg string) {
	entry := LogEntry{Timestamp: time.Now(), Type: logType, Message: msg}

	r.mu.Lock()
	r.entries = append(r.entries, entry)
	r.mu.Unlock()

	level := slog.LevelInfo
	if logType == LogError {
		level = slog.LevelError
	}
	if r.task >= 0 {
		slog.Log(context.Background(), level, fmt.Sprintf("(Task T%d %s): %s", r.task, r.user, msg))
	} else {
		slog.Log(context.Background(), level, msg)
	}

	r.sink(Event{Kind: KindLog, Task: r.task, User: r.user, Log: &entry})
}
