package checkout

import (
	"context"
	"net/url"
	"strings"
	"time"

	"github.com/PeterC02/Pokemon-Store-Bot-Final/app/pkg/network"
)

var queueMarkers = []string{
	"/throttle/queue",
	"queue_token",
	`id="queue-page"`,
	"data-poll-url",
	"checkout_queue",
}

func inQueue(resp *network.Response) bool {
	if resp.Status == 429 {
		return true
	}
	if strings.Contains(resp.URL, "/throttle/queue") {
		return true
	}
	for _, marker := range queueMarkers {
		if strings.Contains(resp.Body, marker) {
			return true
		}
	}
	return false
}

// waitInQueue polls until pageURL stops serving a queue page, bounded by the
// queue ceiling. A timeout leaves the session as it was.
func (m *Machine) waitInQueue(ctx context.Context, pageURL string, first *network.Response) (*network.Response, error) {
	deadline := time.Now().Add(m.settings.QueueCeiling)
	pollURL := m.pollURL(first, pageURL)
	m.log.Info("checkout is queued, polling %s", pollURL)

	for poll := 1; ; poll++ {
		wait := m.settings.QueuePollInterval
		if m.settings.QueueJitter > 0 {
			wait += time.Duration(m.rand.Int63n(int64(m.settings.QueueJitter)))
		}
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil, fail(StepQueue, ErrQueueTimeout)
		}
		if wait > remaining {
			wait = remaining
		}
		if err := m.sleep(ctx, wait); err != nil {
			return nil, err
		}
		if time.Now().After(deadline) {
			return nil, fail(StepQueue, ErrQueueTimeout)
		}

		resp, err := m.getFollow(ctx, pollURL)
		if err != nil {
			if ctx.Err() != nil {
				return nil, fail(StepStopped, ctx.Err())
			}
			m.log.Error("queue poll %d failed: %v", poll, err)
			continue
		}
		if inQueue(resp) {
			pollURL = m.pollURL(resp, pollURL)
			continue
		}

		if pollURL != pageURL {
			// the poll endpoint only reports the position; the page is fetched once it clears
			if resp, err = m.getFollow(ctx, pageURL); err != nil {
				m.log.Error("checkout fetch after queue failed: %v", err)
				continue
			}
			if inQueue(resp) {
				continue
			}
		}

		m.log.Info("queue cleared after %d polls", poll)
		return resp, nil
	}
}

func (m *Machine) pollURL(resp *network.Response, fallback string) string {
	discovered := harvest(resp).PollURL
	if discovered == "" {
		return fallback
	}

	base, err := url.Parse(resp.URL)
	if err != nil {
		return m.resolve(discovered)
	}
	ref, err := url.Parse(discovered)
	if err != nil {
		return fallback
	}
	return base.ResolveReference(ref).String()
}
