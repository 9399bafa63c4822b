package checkout

import (
	"context"
	"fmt"

	customerrors "github.com/PeterC02/Pokemon-Store-Bot-Final/app/pkg/custom-types/custom-errors"
)

// Warm opens the store connection and collects the storefront cookies ahead
// of a timed release. Calling it again on the same session refreshes the
// cookies without dropping any.
func (m *Machine) Warm(ctx context.Context, t Target) error {
	t = m.normalize(t)

	if err := m.sess.Engine.PreConnect(ctx, t.BaseURL); err != nil {
		return fail(StepWarm, fmt.Errorf("pre-connect to store failed: %w", err))
	}
	if m.settings.VaultURL != "" {
		if err := m.sess.Engine.PreConnect(ctx, m.settings.VaultURL); err != nil {
			m.log.Error("pre-connect to vault failed: %v", err)
		}
	}

	for _, path := range []string{"/", "/cart"} {
		if err := m.checkpoint(ctx); err != nil {
			return err
		}
		resp, err := m.get(ctx, path)
		if err != nil {
			return fail(StepWarm, err)
		}
		if resp.Status >= 400 {
			return fail(StepWarm, fmt.Errorf("GET %s: %w", path, customerrors.InferHttpError(resp.Status)))
		}
	}

	if m.settings.PrewarmPayment && m.sess.PaymentSessionID == "" && !t.Buyer.Card.empty() {
		id, err := m.TokenizeCard(ctx, t.Buyer.Card)
		if err != nil {
			m.log.Error("payment pre-warm failed: %v", err)
		} else {
			m.sess.PaymentSessionID = id
			m.log.Info("payment session pre-warmed")
		}
	}

	m.sess.Warmed = true
	stats := m.sess.Engine.Timings().Stats()
	m.log.Success("session warmed, %d requests averaging %s", stats.Count, stats.Avg)
	return nil
}
