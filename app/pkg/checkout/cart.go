package checkout

import (
	"context"
	"fmt"
	"net/url"
	"strconv"

	customerrors "github.com/PeterC02/Pokemon-Store-Bot-Final/app/pkg/custom-types/custom-errors"
)

// acquireCheckout gets a checkout for the variant, through the direct link
// when the store honours it and through the cart otherwise.
func (m *Machine) acquireCheckout(ctx context.Context, t Target, v *Variant) error {
	err := m.directLink(ctx, v, t.Quantity)
	if err == nil {
		m.log.Info("direct checkout link accepted: %s", m.sess.CheckoutToken)
		return nil
	}
	m.log.Info("direct checkout link not honoured (%v), going through the cart", err)

	if err := m.checkpoint(ctx); err != nil {
		return err
	}
	return m.cartCheckout(ctx, v, t.Quantity)
}

func (m *Machine) directLink(ctx context.Context, v *Variant, qty int) error {
	resp, err := m.get(ctx, fmt.Sprintf("/cart/%s:%d", url.PathEscape(v.ID), qty))
	if err != nil {
		return err
	}
	if !resp.IsRedirect() || !isCheckoutURL(resp.Location()) {
		return errDirectLinkNoHit
	}

	m.setCheckout(resp.Location())
	return nil
}

func (m *Machine) cartCheckout(ctx context.Context, v *Variant, qty int) error {
	if resp, err := m.postForm(ctx, "/cart/clear.js", url.Values{}); err != nil {
		m.log.Error("clearing the cart failed: %v", err)
	} else if resp.Status >= 400 {
		m.log.Error("clearing the cart failed: %v", customerrors.InferHttpError(resp.Status))
	}

	if err := m.addToCart(ctx, v, qty); err != nil {
		return err
	}
	m.log.Info("added %d x %s to cart", qty, v.Title)

	if err := m.checkpoint(ctx); err != nil {
		return err
	}

	resp, err := m.postForm(ctx, "/cart", url.Values{"checkout": {""}})
	if err != nil {
		return fail(StepCreateCheckout, err)
	}
	if resp.Status >= 400 {
		return fail(StepCreateCheckout, customerrors.InferHttpError(resp.Status))
	}
	if !resp.IsRedirect() || !isCheckoutURL(resp.Location()) {
		return fail(StepCreateCheckout, ErrNoCheckout)
	}

	m.setCheckout(resp.Location())
	m.log.Info("checkout created: %s", m.sess.CheckoutToken)
	return nil
}

// addToCart tries the form body first and the JSON body second.
func (m *Machine) addToCart(ctx context.Context, v *Variant, qty int) error {
	shapes := []func() (int, error){
		func() (int, error) {
			resp, err := m.postForm(ctx, "/cart/add.js", url.Values{
				"id":       {v.ID},
				"quantity": {strconv.Itoa(qty)},
			})
			if err != nil {
				return 0, err
			}
			return resp.Status, nil
		},
		func() (int, error) {
			id, err := strconv.ParseInt(v.ID, 10, 64)
			if err != nil {
				return 0, fmt.Errorf("variant id %q is not numeric", v.ID)
			}
			resp, err := m.postJSON(ctx, "/cart/add.js", map[string]any{
				"items": []map[string]any{{"id": id, "quantity": qty}},
			}, nil)
			if err != nil {
				return 0, err
			}
			return resp.Status, nil
		},
	}

	var lastErr error
	for _, shape := range shapes {
		status, err := shape()
		if err == nil && status < 300 {
			return nil
		}
		if err == nil {
			err = customerrors.InferHttpError(status)
		}
		lastErr = err
		if ctx.Err() != nil {
			return fail(StepStopped, ctx.Err())
		}
	}

	return fail(StepAddToCart, lastErr)
}
