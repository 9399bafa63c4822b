package fleet

import (
	"context"
	"fmt"
	"net/url"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/PeterC02/Pokemon-Store-Bot-Final/app/pkg/checkout"
	"github.com/PeterC02/Pokemon-Store-Bot-Final/app/pkg/checkout/checkouttest"
	"github.com/PeterC02/Pokemon-Store-Bot-Final/app/pkg/events"
	"github.com/PeterC02/Pokemon-Store-Bot-Final/app/pkg/network"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func buyer(i int) checkout.Buyer {
	return checkout.Buyer{
		Email: fmt.Sprintf("trainer%d@example.com", i),
		Address: checkout.Address{
			FirstName: "Trainer",
			LastName:  fmt.Sprintf("No%d", i),
			Address1:  fmt.Sprintf("%d Route Road", i+1),
			City:      "Pallet",
			Zip:       "10001",
			Country:   "US",
		},
		Card: checkout.Card{Number: "4242424242424242", Name: "Trainer", Month: "12", Year: "2030", CVV: "123"},
	}
}

func mustProxy(t *testing.T, raw string) *url.URL {
	t.Helper()
	u, err := url.Parse(raw)
	require.NoError(t, err)
	return u
}

func tasks(n int) []Task {
	out := make([]Task, n)
	for i := range out {
		out[i] = Task{Buyer: buyer(i)}
	}
	return out
}

type eventLog struct {
	mu     sync.Mutex
	events []events.Event
}

func (l *eventLog) sink(ev events.Event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, ev)
}

func (l *eventLog) states(task int) []string {
	l.mu.Lock()
	defer l.mu.Unlock()

	states := []string{}
	for _, ev := range l.events {
		if ev.Kind == events.KindState && ev.Task == task {
			states = append(states, ev.State)
		}
	}
	return states
}

func storeRunner(store *checkouttest.Store) Runner {
	return func(ctx context.Context, task Task, log *events.Recorder, stop func() bool) *checkout.Outcome {
		engine := network.NewEngine(network.Config{Proxy: task.Proxy, MaxRetries: 0})
		defer engine.Close()

		m := checkout.NewMachine(checkout.NewSession(store.URL, engine), checkout.Settings{}, log).WithStop(stop)
		return m.Run(ctx, checkout.Target{VariantID: "102", Quantity: 1, Buyer: task.Buyer})
	}
}

func TestFleetOnlyOneBuyerSucceeds(t *testing.T) {
	store := checkouttest.NewStore(checkouttest.Options{
		SucceedFor: func(email string) bool { return email == "trainer2@example.com" },
	})
	defer store.Close()

	var log eventLog
	f := New(Config{Stagger: 5 * time.Millisecond, Sink: log.sink}, storeRunner(store))

	result, err := f.Launch(context.Background(), tasks(5))
	require.NoError(t, err)
	assert.Equal(t, 1, result.SuccessCount)
	assert.Equal(t, 4, result.FailCount)
	require.Len(t, result.Summaries, 5)

	for i, s := range result.Summaries {
		assert.Equal(t, i, s.Index)
		assert.Equal(t, fmt.Sprintf("trainer%d@example.com", i), s.User)
		if i == 2 {
			assert.True(t, s.Success)
			assert.Equal(t, checkout.StepComplete, s.Step)
		} else {
			assert.False(t, s.Success)
			assert.Equal(t, checkout.StepPayment, s.Step)
		}
	}
	assert.Equal(t, 2, f.Winner())

	stats := store.Stats()
	assert.Equal(t, 5, stats.CheckoutsCreated, "each task owns its own store session")
	assert.Equal(t, []string{"trainer2@example.com"}, stats.Orders)

	assert.Equal(t, []string{StateWaiting, StateRunning, StateSuccess}, log.states(2))
	assert.Equal(t, []string{StateWaiting, StateRunning, StateFailed}, log.states(0))

	log.mu.Lock()
	last := log.events[len(log.events)-1]
	log.mu.Unlock()
	assert.Equal(t, events.KindComplete, last.Kind)
	assert.Equal(t, 1, last.Successes)
	assert.Equal(t, 4, last.Failures)
}

func TestPanicIsIsolatedToItsTask(t *testing.T) {
	f := New(Config{Stagger: -1}, func(ctx context.Context, task Task, log *events.Recorder, stop func() bool) *checkout.Outcome {
		if task.Index == 1 {
			panic("boom")
		}
		return &checkout.Outcome{Success: true, Step: checkout.StepComplete}
	})

	result, err := f.Launch(context.Background(), tasks(3))
	require.NoError(t, err)
	assert.Equal(t, 2, result.SuccessCount)
	assert.Equal(t, 1, result.FailCount)
	assert.Equal(t, checkout.StepFatal, result.Summaries[1].Step)
	assert.Contains(t, result.Summaries[1].Error, "boom")
}

func TestStopSkipsTasksNotStarted(t *testing.T) {
	var started atomic.Int32
	var f *Fleet
	f = New(Config{Stagger: 30 * time.Millisecond}, func(ctx context.Context, task Task, log *events.Recorder, stop func() bool) *checkout.Outcome {
		started.Add(1)
		f.Stop()
		assert.True(t, stop())
		return &checkout.Outcome{Step: checkout.StepStopped}
	})

	result, err := f.Launch(context.Background(), tasks(4))
	require.NoError(t, err)
	assert.Equal(t, int32(1), started.Load())
	assert.Equal(t, 4, result.FailCount)
	for _, s := range result.Summaries {
		assert.Equal(t, checkout.StepStopped, s.Step)
	}
}

func TestStopOnFirstSuccess(t *testing.T) {
	var started atomic.Int32
	f := New(Config{Stagger: 40 * time.Millisecond, StopOnFirstSuccess: true}, func(ctx context.Context, task Task, log *events.Recorder, stop func() bool) *checkout.Outcome {
		started.Add(1)
		return &checkout.Outcome{Success: true, Step: checkout.StepComplete}
	})

	result, err := f.Launch(context.Background(), tasks(3))
	require.NoError(t, err)
	assert.Equal(t, int32(1), started.Load())
	assert.Equal(t, 1, result.SuccessCount)
	assert.Equal(t, checkout.StepStopped, result.Summaries[1].Step)
	assert.Equal(t, checkout.StepStopped, result.Summaries[2].Step)
	assert.False(t, f.Stopped(), "a winner does not raise the stop flag")
}

func TestInFlightTasksAreNotPreemptedByWinner(t *testing.T) {
	running := make(chan struct{})
	release := make(chan struct{})
	f := New(Config{Stagger: -1, StopOnFirstSuccess: true}, func(ctx context.Context, task Task, log *events.Recorder, stop func() bool) *checkout.Outcome {
		if task.Index == 0 {
			<-running
			defer close(release)
			return &checkout.Outcome{Success: true, Step: checkout.StepComplete}
		}
		close(running)
		<-release
		assert.False(t, stop())
		return &checkout.Outcome{Step: checkout.StepPayment}
	})

	result, err := f.Launch(context.Background(), tasks(2))
	require.NoError(t, err)
	assert.Equal(t, checkout.StepPayment, result.Summaries[1].Step)
}

func TestLaunchRejectsBadTaskCounts(t *testing.T) {
	f := New(Config{}, func(context.Context, Task, *events.Recorder, func() bool) *checkout.Outcome {
		return &checkout.Outcome{}
	})

	_, err := f.Launch(context.Background(), tasks(MaxTasks+1))
	assert.ErrorIs(t, err, ErrTooManyTasks)

	_, err = f.Launch(context.Background(), nil)
	assert.Error(t, err)
}

func TestProxyIsHandedToTask(t *testing.T) {
	f := New(Config{Stagger: -1}, func(ctx context.Context, task Task, log *events.Recorder, stop func() bool) *checkout.Outcome {
		return &checkout.Outcome{Success: task.Proxy != nil && task.Proxy.Host == fmt.Sprintf("10.0.0.%d:8080", task.Index)}
	})

	in := tasks(3)
	for i := range in {
		in[i].Proxy = mustProxy(t, fmt.Sprintf("http://10.0.0.%d:8080", i))
	}

	result, err := f.Launch(context.Background(), in)
	require.NoError(t, err)
	assert.Equal(t, 3, result.SuccessCount)
}
