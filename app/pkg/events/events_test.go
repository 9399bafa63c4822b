package events

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	safews "github.com/PeterC02/Pokemon-Store-Bot-Final/app/pkg/safe-ws"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecorderKeepsTranscriptAndForwards(t *testing.T) {
	var mu sync.Mutex
	var received []Event
	sink := func(ev Event) {
		mu.Lock()
		defer mu.Unlock()
		received = append(received, ev)
	}

	rec := NewRecorder(sink, 3, "ash@example.com")
	rec.Info("resolved variant %s", "123")
	rec.Error("payment failed")
	rec.Success("order placed")
	rec.State("running")

	entries := rec.Entries()
	require.Len(t, entries, 3)
	assert.Equal(t, LogInfo, entries[0].Type)
	assert.Equal(t, "resolved variant 123", entries[0].Message)
	assert.Equal(t, LogError, entries[1].Type)
	assert.Equal(t, LogSuccess, entries[2].Type)
	assert.False(t, entries[0].Timestamp.IsZero())

	require.Len(t, received, 4)
	assert.Equal(t, KindLog, received[0].Kind)
	assert.Equal(t, 3, received[0].Task)
	assert.Equal(t, "ash@example.com", received[0].User)
	assert.Equal(t, KindState, received[3].Kind)
	assert.Equal(t, "running", received[3].State)
}

func TestMultiSkipsNilSinks(t *testing.T) {
	count := 0
	sink := Multi(nil, func(Event) { count++ }, Discard, func(Event) { count++ })
	sink(Event{Kind: KindComplete})
	assert.Equal(t, 2, count)
}

func TestBroadcasterWritesJSONToEveryConsumer(t *testing.T) {
	upgrader := websocket.Upgrader{}
	messages := make(chan string, 4)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			messages <- string(data)
		}
	}))
	defer srv.Close()

	wsUrl := "ws" + strings.TrimPrefix(srv.URL, "http")
	var conns []*safews.SafeConn
	for i := 0; i < 2; i++ {
		conn, _, err := websocket.DefaultDialer.Dial(wsUrl, nil)
		require.NoError(t, err)
		sc := safews.NewSafeConn(conn)
		defer sc.Close()
		conns = append(conns, sc)
	}

	broadcaster := &Broadcaster{Conns: conns}
	broadcaster.Sink(Event{Kind: KindComplete, Task: -1, Successes: 1, Failures: 4})

	for i := 0; i < 2; i++ {
		select {
		case msg := <-messages:
			assert.JSONEq(t, `{"kind":"complete","task":-1,"successes":1,"failures":4}`, msg)
		case <-time.After(2 * time.Second):
			t.Fatal("event not delivered to every consumer")
		}
	}
}

func TestStatusLog(t *testing.T) {
	var buf strings.Builder
	status := NewStatusLog(&buf)

	rec := NewRecorder(status.Sink, 1, "ash@example.com")
	rec.Info("queue cleared after %d polls", 3)
	rec.State("running")
	NewRecorder(status.Sink, -1, "").Error("warm-up failed")
	status.Sink(Event{Kind: KindComplete, Task: -1, Successes: 1, Failures: 4})
	status.Sink(Event{Kind: KindLog, Task: 2})

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 5)
	assert.Contains(t, lines[0], "TASK 1 [info] queue cleared after 3 polls")
	assert.Contains(t, lines[1], "TASK 1 state: running")
	assert.Contains(t, lines[2], "MAIN [error] warm-up failed")
	assert.Contains(t, lines[3], "FLEET COMPLETE")
	assert.Equal(t, "Successes: 1, Failures: 4", lines[4])
}
