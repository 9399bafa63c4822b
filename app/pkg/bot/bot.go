// Package bot exposes the checkout entry points: warm-up, single runs and fleets.
package bot

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/PeterC02/Pokemon-Store-Bot-Final/app/pkg/checkout"
	"github.com/PeterC02/Pokemon-Store-Bot-Final/app/pkg/events"
	"github.com/PeterC02/Pokemon-Store-Bot-Final/app/pkg/fleet"
	"github.com/PeterC02/Pokemon-Store-Bot-Final/app/pkg/network"
	"github.com/PeterC02/Pokemon-Store-Bot-Final/app/pkg/persistence"
)

type Options struct {
	Engine   network.Config
	Settings checkout.Settings
	Fleet    fleet.Config

	// SnapshotPath is where the warm session is saved. Persistence is off when empty.
	SnapshotPath string

	Sink events.Sink
	Now  func() time.Time
}

type WarmResult struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Err     error  `json:"-"`
}

type Bot struct {
	opts    Options
	mu      sync.Mutex
	warm    *checkout.Session
	fleet   *fleet.Fleet
	stopped atomic.Bool
}

func New(opts Options) *Bot {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Sink == nil {
		opts.Sink = events.Discard
	}
	opts.Fleet.Sink = opts.Sink
	return &Bot{opts: opts}
}

// Stop makes every running checkout give up at its next step boundary.
func (b *Bot) Stop() {
	b.stopped.Store(true)

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.fleet != nil {
		b.fleet.Stop()
	}
}

// Warmed returns the warm session, nil when none is held.
func (b *Bot) Warmed() *checkout.Session {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.warm
}

// WarmSession prepares a session ahead of the release. Repeated calls keep
// working on the same session.
func (b *Bot) WarmSession(ctx context.Context, target checkout.Target) WarmResult {
	b.mu.Lock()
	defer b.mu.Unlock()

	log := events.NewRecorder(b.opts.Sink, -1, target.Buyer.Email)
	if b.warm == nil {
		b.warm = b.restoreOrCreate(target.BaseURL, log)
	}
	sess := b.warm

	m := checkout.NewMachine(sess, b.opts.Settings, log).WithStop(b.stopped.Load)
	if err := m.Warm(ctx, target); err != nil {
		log.Error("warm-up failed: %v", err)
		return WarmResult{Message: err.Error(), Err: err}
	}

	if b.opts.SnapshotPath != "" {
		if err := persistence.Save(b.opts.SnapshotPath, sess.Snapshot(b.opts.Now())); err != nil {
			log.Error("could not save session snapshot: %v", err)
		}
	}

	return WarmResult{Success: true, Message: fmt.Sprintf("session %s warmed", sess.ID)}
}

func (b *Bot) restoreOrCreate(baseURL string, log *events.Recorder) *checkout.Session {
	now := b.opts.Now()
	engineCfg := b.opts.Engine

	var snap *persistence.Snapshot
	if b.opts.SnapshotPath != "" {
		loaded, ok, err := persistence.Load(b.opts.SnapshotPath, now)
		if err != nil {
			log.Error("ignoring unreadable session snapshot: %v", err)
		} else if ok {
			snap = loaded
			if snap.Profile.UserAgent != "" {
				engineCfg.Profile = snap.Profile
			}
		}
	}

	sess := checkout.NewSession(baseURL, network.NewEngine(engineCfg))
	if snap != nil && sess.Restore(snap, now) {
		log.Info("restored session %s saved at %s", sess.ID, snap.SavedAt.Format(time.RFC3339))
	}
	return sess
}

// RunFast checks out on a fresh session.
func (b *Bot) RunFast(ctx context.Context, target checkout.Target) *checkout.Outcome {
	log := events.NewRecorder(b.opts.Sink, -1, target.Buyer.Email)

	engine := network.NewEngine(b.opts.Engine)
	defer engine.Close()

	m := checkout.NewMachine(checkout.NewSession(target.BaseURL, engine), b.opts.Settings, log).
		WithStop(b.stopped.Load).
		WithMode(checkout.ModeFast)
	return m.Run(ctx, target)
}

// RunFromWarm checks out on the warm session, consuming it. Without one it
// behaves as RunFast.
func (b *Bot) RunFromWarm(ctx context.Context, target checkout.Target) *checkout.Outcome {
	b.mu.Lock()
	sess := b.warm
	b.warm = nil
	b.mu.Unlock()

	if sess == nil {
		return b.RunFast(ctx, target)
	}
	defer sess.Engine.Close()

	log := events.NewRecorder(b.opts.Sink, -1, target.Buyer.Email)
	m := checkout.NewMachine(sess, b.opts.Settings, log).
		WithStop(b.stopped.Load).
		WithMode(checkout.ModeWarm)
	out := m.Run(ctx, target)

	if b.opts.SnapshotPath != "" {
		if err := persistence.Remove(b.opts.SnapshotPath); err != nil {
			log.Error("could not remove used session snapshot: %v", err)
		}
	}

	return out
}

// LaunchFleet runs one checkout per buyer. Task i is bound to proxies[i % len(proxies)].
func (b *Bot) LaunchFleet(ctx context.Context, buyers []checkout.Buyer, target checkout.Target, proxies []*url.URL) (*fleet.Result, error) {
	if len(buyers) == 0 {
		return nil, errors.New("no buyers to launch")
	}

	tasks := make([]fleet.Task, len(buyers))
	for i, buyer := range buyers {
		tasks[i] = fleet.Task{Index: i, Buyer: buyer}
		if len(proxies) > 0 {
			tasks[i].Proxy = proxies[i%len(proxies)]
		}
	}

	f := fleet.New(b.opts.Fleet, func(ctx context.Context, task fleet.Task, log *events.Recorder, stop func() bool) *checkout.Outcome {
		engineCfg := b.opts.Engine
		engineCfg.Proxy = task.Proxy
		engine := network.NewEngine(engineCfg)
		defer engine.Close()

		taskTarget := target
		taskTarget.Buyer = task.Buyer

		m := checkout.NewMachine(checkout.NewSession(target.BaseURL, engine), b.opts.Settings, log).
			WithStop(stop).
			WithMode(checkout.ModeFast)
		return m.Run(ctx, taskTarget)
	})

	b.mu.Lock()
	b.fleet = f
	b.mu.Unlock()
	if b.stopped.Load() {
		f.Stop()
	}

	return f.Launch(ctx, tasks)
}
