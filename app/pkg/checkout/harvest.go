package checkout

import (
	"context"
	"strings"

	customerrors "github.com/PeterC02/Pokemon-Store-Bot-Final/app/pkg/custom-types/custom-errors"
	"github.com/PeterC02/Pokemon-Store-Bot-Final/app/pkg/network"

	"github.com/PuerkitoBio/goquery"
)

// page holds what a checkout page exposes to the next submission.
type page struct {
	URL       string
	Body      string
	AuthToken string
	GatewayID string
	Rates     []string
	PollURL   string
}

var (
	tokenSelectors = []string{
		`input[name="authenticity_token"]`,
		`meta[name="csrf-token"]`,
	}
	gatewaySelectors = []struct{ selector, attr string }{
		{`[data-select-gateway]`, "data-select-gateway"},
		{`input[name="checkout[payment_gateway]"]`, "value"},
		{`[data-gateway-id]`, "data-gateway-id"},
	}
	rateSelectors = []struct{ selector, attr string }{
		{`[data-shipping-method]`, "data-shipping-method"},
		{`input[name="checkout[shipping_rate][id]"]`, "value"},
	}
)

func harvest(resp *network.Response) *page {
	pg := &page{URL: resp.URL, Body: resp.Body}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(resp.Body))
	if err != nil {
		return pg
	}

	for _, selector := range tokenSelectors {
		attr := "value"
		if strings.HasPrefix(selector, "meta") {
			attr = "content"
		}
		if pg.AuthToken = firstAttr(doc, selector, attr); pg.AuthToken != "" {
			break
		}
	}

	for _, gw := range gatewaySelectors {
		if pg.GatewayID = firstAttr(doc, gw.selector, gw.attr); pg.GatewayID != "" {
			break
		}
	}

	seen := map[string]bool{}
	for _, rate := range rateSelectors {
		doc.Find(rate.selector).Each(func(_ int, s *goquery.Selection) {
			id := strings.TrimSpace(s.AttrOr(rate.attr, ""))
			if id != "" && !seen[id] {
				seen[id] = true
				pg.Rates = append(pg.Rates, id)
			}
		})
	}

	pg.PollURL = firstAttr(doc, `[data-poll-url]`, "data-poll-url")

	return pg
}

func firstAttr(doc *goquery.Document, selector, attr string) string {
	value := ""
	doc.Find(selector).EachWithBreak(func(_ int, s *goquery.Selection) bool {
		value = strings.TrimSpace(s.AttrOr(attr, ""))
		return value == ""
	})
	return value
}

// loadCheckout fetches a checkout page, waits out a queue in front of it and
// adopts the auth token and gateway it carries.
func (m *Machine) loadCheckout(ctx context.Context, rawUrl string, step Step) (*page, error) {
	resp, err := m.getFollow(ctx, rawUrl)
	if err != nil {
		return nil, fail(step, err)
	}
	if resp.Status >= 400 && resp.Status != 429 {
		return nil, fail(step, customerrors.InferHttpError(resp.Status))
	}

	if inQueue(resp) {
		if resp, err = m.waitInQueue(ctx, rawUrl, resp); err != nil {
			return nil, err
		}
	}

	pg := harvest(resp)
	m.sess.adoptToken(pg.AuthToken)
	if pg.GatewayID != "" {
		m.sess.PaymentGatewayID = pg.GatewayID
	}

	return pg, nil
}
