package checkout

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"

	customerrors "github.com/PeterC02/Pokemon-Store-Bot-Final/app/pkg/custom-types/custom-errors"
)

// ensureToken re-fetches the checkout page once when no fresh token is held.
func (m *Machine) ensureToken(ctx context.Context, step Step) error {
	if m.sess.TokenFresh() {
		return nil
	}

	m.log.Info("no fresh auth token, re-fetching the checkout page")
	if _, err := m.loadCheckout(ctx, m.sess.CheckoutURL, step); err != nil {
		return err
	}
	if !m.sess.TokenFresh() {
		return fail(step, ErrMissingToken)
	}
	return nil
}

func (m *Machine) submitShipping(ctx context.Context, buyer Buyer) error {
	if err := m.ensureToken(ctx, StepShipping); err != nil {
		return err
	}

	addr := buyer.Address
	form := url.Values{}
	form.Set("_method", "patch")
	form.Set("previous_step", "contact_information")
	form.Set("step", "shipping_method")
	form.Set("checkout[email]", buyer.Email)
	form.Set("checkout[buyer_accepts_marketing]", "0")
	form.Set("checkout[shipping_address][first_name]", addr.FirstName)
	form.Set("checkout[shipping_address][last_name]", addr.LastName)
	form.Set("checkout[shipping_address][address1]", addr.Address1)
	form.Set("checkout[shipping_address][address2]", addr.Address2)
	form.Set("checkout[shipping_address][city]", addr.City)
	form.Set("checkout[shipping_address][province]", addr.Province)
	form.Set("checkout[shipping_address][zip]", addr.Zip)
	form.Set("checkout[shipping_address][country]", addr.Country)
	form.Set("checkout[shipping_address][phone]", addr.Phone)
	form.Set("checkout[remember_me]", "0")

	resp, err := m.submit(ctx, m.sess.CheckoutURL, form, StepShipping)
	if err != nil {
		return err
	}

	next := m.stepURL("shipping_method")
	if resp.IsRedirect() {
		next = resp.Location()
	}
	if _, err := m.loadCheckout(ctx, next, StepShipping); err != nil {
		return err
	}
	if err := m.ensureToken(ctx, StepShipping); err != nil {
		return err
	}

	m.sess.ShippingSubmitted = true
	m.log.Info("shipping address submitted")
	return nil
}

func (m *Machine) selectRate(ctx context.Context) error {
	pg, err := m.loadCheckout(ctx, m.stepURL("shipping_method"), StepShippingRate)
	if err != nil {
		return err
	}

	rates := pg.Rates
	if len(rates) == 0 {
		if rates, err = m.fetchRates(ctx); err != nil {
			m.log.Error("shipping rates lookup failed: %v", err)
		}
	}
	if len(rates) == 0 {
		return fail(StepShippingRate, ErrNoRates)
	}
	m.log.Info("selecting shipping rate %s of %d offered", rates[0], len(rates))

	if err := m.ensureToken(ctx, StepShippingRate); err != nil {
		return err
	}

	form := url.Values{}
	form.Set("_method", "patch")
	form.Set("previous_step", "shipping_method")
	form.Set("step", "payment_method")
	form.Set("checkout[shipping_rate][id]", rates[0])

	resp, err := m.submit(ctx, m.sess.CheckoutURL, form, StepShippingRate)
	if err != nil {
		return err
	}

	next := m.stepURL("payment_method")
	if resp.IsRedirect() {
		next = resp.Location()
	}
	_, err = m.loadCheckout(ctx, next, StepShippingRate)
	return err
}

type ratesResponse struct {
	ShippingRates []struct {
		ID    string `json:"id"`
		Title string `json:"title"`
		Price string `json:"price"`
	} `json:"shipping_rates"`
}

// fetchRates reads the rates endpoint, which answers 202 while rates are still
// being computed.
func (m *Machine) fetchRates(ctx context.Context) ([]string, error) {
	for poll := 0; poll < m.settings.RatePolls; poll++ {
		if poll > 0 {
			if err := m.sleep(ctx, m.settings.RateInterval); err != nil {
				return nil, err
			}
		}

		resp, err := m.get(ctx, m.sess.CheckoutURL+"/shipping_rates.json")
		if err != nil {
			return nil, err
		}
		switch {
		case resp.Status == 202:
			continue
		case resp.Status >= 400:
			return nil, customerrors.InferHttpError(resp.Status)
		}

		var parsed ratesResponse
		if err := json.Unmarshal([]byte(resp.Body), &parsed); err != nil {
			return nil, fmt.Errorf("failed to decode shipping rates: %w", err)
		}
		ids := make([]string, 0, len(parsed.ShippingRates))
		for _, rate := range parsed.ShippingRates {
			if rate.ID != "" {
				ids = append(ids, rate.ID)
			}
		}
		return ids, nil
	}

	return nil, fmt.Errorf("shipping rates still pending after %d polls", m.settings.RatePolls)
}
