package events

import (
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"
)

const statusTimeLayout = "2006-01-02 15:04:05.0"

// StatusLog writes a human readable line per event, the run status file.
type StatusLog struct {
	w  io.Writer
	mu sync.Mutex
}

func NewStatusLog(w io.Writer) *StatusLog {
	return &StatusLog{w: w}
}

func (s *StatusLog) Sink(ev Event) {
	line := statusLine(ev)
	if line == "" {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := io.WriteString(s.w, line); err != nil {
		slog.Error("error writing status log", "error", err)
	}
}

func statusLine(ev Event) string {
	who := "MAIN"
	if ev.Task >= 0 {
		who = fmt.Sprintf("TASK %d", ev.Task)
	}

	switch ev.Kind {
	case KindLog:
		if ev.Log == nil {
			return ""
		}
		return fmt.Sprintf("%s %s [%s] %s\n", ev.Log.Timestamp.Format(statusTimeLayout), who, ev.Log.Type, ev.Log.Message)
	case KindState:
		return fmt.Sprintf("%s %s state: %s\n", time.Now().Format(statusTimeLayout), who, ev.State)
	case KindComplete:
		return fmt.Sprintf(
			"%s FLEET COMPLETE\nSuccesses: %d, Failures: %d\n\n",
			time.Now().Format(statusTimeLayout), ev.Successes, ev.Failures,
		)
	}
	return ""
}
