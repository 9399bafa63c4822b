package checkout

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"

	customerrors "github.com/PeterC02/Pokemon-Store-Bot-Final/app/pkg/custom-types/custom-errors"
	"github.com/PeterC02/Pokemon-Store-Bot-Final/app/pkg/network"
)

var (
	confirmationURLMarkers  = []string{"thank_you", "thank-you", "/orders/"}
	confirmationBodyMarkers = []string{
		"Thank you for your order",
		"Your order is confirmed",
		"order-confirmation",
	}
)

func (m *Machine) pay(ctx context.Context, buyer Buyer) error {
	sessionID := m.sess.PaymentSessionID
	m.sess.PaymentSessionID = ""
	switch {
	case sessionID != "":
		m.log.Info("using the payment session created during warm-up")
	case m.settings.VaultURL != "" && !buyer.Card.empty():
		id, err := m.TokenizeCard(ctx, buyer.Card)
		if err != nil {
			if StepOf(err) == StepStopped {
				return err
			}
			m.log.Error("card tokenization failed, sending card fields directly: %v", err)
		} else {
			sessionID = id
		}
	}

	if err := m.checkpoint(ctx); err != nil {
		return err
	}

	if _, err := m.loadCheckout(ctx, m.stepURL("payment_method"), StepPayment); err != nil {
		return err
	}
	if !m.sess.TokenFresh() || m.sess.PaymentGatewayID == "" {
		m.log.Info("payment page incomplete, retrying against the checkout url")
		if _, err := m.loadCheckout(ctx, m.sess.CheckoutURL, StepPayment); err != nil {
			return err
		}
	}
	if !m.sess.TokenFresh() {
		return fail(StepPayment, ErrMissingToken)
	}
	if m.sess.PaymentGatewayID == "" {
		return fail(StepPayment, ErrMissingGateway)
	}
	if sessionID == "" && buyer.Card.empty() {
		return fail(StepPayment, errors.New("no card details and no payment session"))
	}

	form := m.paymentForm(sessionID, buyer.Card)

	if m.settings.DryRun {
		method := "card fields"
		if sessionID != "" {
			method = "vault session"
		}
		m.dryRunReached = true
		m.log.Info("[dry run] payment ready with gateway %s using %s, skipping the final submission",
			m.sess.PaymentGatewayID, method)
		return nil
	}

	if err := m.checkpoint(ctx); err != nil {
		return err
	}
	resp, err := m.submit(ctx, m.sess.CheckoutURL, form, StepPayment)
	if err != nil {
		return err
	}
	m.log.Info("payment submitted")

	return m.confirm(ctx, resp)
}

func (m *Machine) paymentForm(sessionID string, card Card) url.Values {
	form := url.Values{}
	form.Set("_method", "patch")
	form.Set("previous_step", "payment_method")
	form.Set("step", "")
	form.Set("checkout[payment_gateway]", m.sess.PaymentGatewayID)
	form.Set("checkout[different_billing_address]", "false")
	form.Set("complete", "1")

	if sessionID != "" {
		form.Set("s", sessionID)
		return form
	}
	form.Set("checkout[credit_card][number]", card.Number)
	form.Set("checkout[credit_card][name]", card.Name)
	form.Set("checkout[credit_card][month]", card.Month)
	form.Set("checkout[credit_card][year]", card.Year)
	form.Set("checkout[credit_card][verification_value]", card.CVV)
	return form
}

// TokenizeCard exchanges the card for a payment session id at the vault.
func (m *Machine) TokenizeCard(ctx context.Context, card Card) (string, error) {
	if m.settings.VaultURL == "" {
		return "", errors.New("no vault url configured")
	}
	if card.empty() {
		return "", errors.New("no card number")
	}

	scope := ""
	if parsed, err := url.Parse(m.sess.BaseURL); err == nil {
		scope = parsed.Hostname()
	}

	resp, err := m.postJSON(ctx, m.settings.VaultURL, map[string]any{
		"credit_card": map[string]string{
			"number":             card.Number,
			"name":               card.Name,
			"month":              card.Month,
			"year":               card.Year,
			"verification_value": card.CVV,
		},
		"payment_session_scope": scope,
	}, nil)
	if err != nil {
		if ctx.Err() != nil {
			return "", fail(StepStopped, ctx.Err())
		}
		return "", err
	}
	if resp.Status >= 300 {
		return "", customerrors.InferHttpError(resp.Status)
	}

	var parsed struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal([]byte(resp.Body), &parsed); err != nil {
		return "", fmt.Errorf("failed to decode vault response: %w", err)
	}
	if parsed.ID == "" {
		return "", errors.New("vault response carried no session id")
	}

	return parsed.ID, nil
}

func (m *Machine) confirm(ctx context.Context, resp *network.Response) error {
	if location := resp.Location(); resp.IsRedirect() {
		if hasAny(location, confirmationURLMarkers) {
			m.orderURL = location
			return nil
		}
		if strings.Contains(location, "/processing") {
			return m.awaitProcessing(ctx, location)
		}
	}
	if hasAny(resp.Body, confirmationBodyMarkers) {
		m.orderURL = resp.URL
		return nil
	}

	return fail(StepPayment, ErrNotConfirmed)
}

func (m *Machine) awaitProcessing(ctx context.Context, processingURL string) error {
	m.log.Info("payment is processing")

	for poll := 1; poll <= m.settings.ProcessingPolls; poll++ {
		if err := m.sleep(ctx, m.settings.ProcessingInterval); err != nil {
			return err
		}

		resp, err := m.get(ctx, processingURL)
		if err != nil {
			m.log.Error("processing poll %d failed: %v", poll, err)
			continue
		}
		if resp.IsRedirect() {
			location := resp.Location()
			if hasAny(location, confirmationURLMarkers) {
				m.orderURL = location
				return nil
			}
			if !strings.Contains(location, "/processing") {
				return fail(StepPayment, fmt.Errorf("%w: redirected to %s", ErrNotConfirmed, location))
			}
			processingURL = location
			continue
		}
		if hasAny(resp.Body, confirmationBodyMarkers) {
			m.orderURL = processingURL
			return nil
		}
	}

	return fail(StepPayment, fmt.Errorf("%w: still processing after %d polls", ErrNotConfirmed, m.settings.ProcessingPolls))
}

func hasAny(s string, markers []string) bool {
	for _, marker := range markers {
		if strings.Contains(s, marker) {
			return true
		}
	}
	return false
}
