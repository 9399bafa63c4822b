package checkout

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"net/http"
	"net/url"
	"strings"
	"time"

	customerrors "github.com/PeterC02/Pokemon-Store-Bot-Final/app/pkg/custom-types/custom-errors"
	"github.com/PeterC02/Pokemon-Store-Bot-Final/app/pkg/events"
	"github.com/PeterC02/Pokemon-Store-Bot-Final/app/pkg/network"
)

// Machine drives one checkout attempt over a session.
type Machine struct {
	sess     *Session
	settings Settings
	log      *events.Recorder
	stop     func() bool
	mode     Mode
	rand     *rand.Rand

	path          string
	dryRunReached bool
	orderURL      string
}

func NewMachine(sess *Session, settings Settings, log *events.Recorder) *Machine {
	if log == nil {
		log = events.NewRecorder(nil, -1, "")
	}
	return &Machine{
		sess:     sess,
		settings: settings.WithDefaults(),
		log:      log,
		stop:     func() bool { return false },
		mode:     ModeFast,
		rand:     rand.New(rand.NewSource(time.Now().UnixNano())),
		path:     PathStandard,
	}
}

// WithStop installs the callback polled between steps and while waiting.
func (m *Machine) WithStop(stop func() bool) *Machine {
	if stop != nil {
		m.stop = stop
	}
	return m
}

func (m *Machine) WithMode(mode Mode) *Machine {
	m.mode = mode
	return m
}

func (m *Machine) Session() *Session {
	return m.sess
}

// Run performs the checkout for target and reports how it ended.
func (m *Machine) Run(ctx context.Context, target Target) *Outcome {
	start := time.Now()
	target = m.normalize(target)

	err := m.drive(ctx, target)
	if err != nil && ctx.Err() != nil && StepOf(err) != StepStopped {
		err = &StepError{Step: StepStopped, Err: fmt.Errorf("%w (at %s: %v)", ctx.Err(), StepOf(err), err)}
	}

	out := &Outcome{
		DryRun:   m.settings.DryRun,
		Mode:     m.mode,
		Path:     m.path,
		Elapsed:  time.Since(start),
		OrderURL: m.orderURL,
	}
	if err == nil {
		out.Success = true
		out.Step = StepComplete
		if m.dryRunReached {
			m.log.Success("[dry run] checkout reached the payment submission in %s, no order was placed",
				out.Elapsed.Round(time.Millisecond))
		} else {
			m.log.Success("order placed in %s: %s", out.Elapsed.Round(time.Millisecond), m.orderURL)
		}
	} else {
		out.Err = err
		out.Error = err.Error()
		out.Step = StepOf(err)
		prefix := ""
		if m.settings.DryRun {
			prefix = "[dry run] "
		}
		m.log.Error("%scheckout failed at step %s: %v", prefix, out.Step, err)
	}
	out.Logs = m.log.Entries()

	return out
}

func (m *Machine) normalize(t Target) Target {
	if t.BaseURL == "" {
		t.BaseURL = m.sess.BaseURL
	}
	t.BaseURL = strings.TrimRight(t.BaseURL, "/")
	if m.sess.BaseURL == "" {
		m.sess.BaseURL = t.BaseURL
	}
	if t.Quantity <= 0 {
		t.Quantity = 1
	}
	return t
}

func (m *Machine) drive(ctx context.Context, t Target) error {
	if err := t.Buyer.validate(); err != nil {
		return fail(StepShipping, err)
	}
	if err := m.checkpoint(ctx); err != nil {
		return err
	}

	if m.settings.StorefrontToken != "" {
		err := m.runStorefront(ctx, t)
		if err == nil {
			return m.pay(ctx, t.Buyer)
		}
		if StepOf(err) == StepStopped {
			return err
		}
		m.log.Info("storefront checkout unavailable, falling back to the standard flow: %v", err)
		m.sess.resetCheckout()
		m.path = PathStandard
	}

	if m.sess.CheckoutURL == "" {
		variant, err := m.ResolveVariant(ctx, t)
		if err != nil {
			return err
		}
		if err := m.checkpoint(ctx); err != nil {
			return err
		}
		if err := m.acquireCheckout(ctx, t, variant); err != nil {
			return err
		}
	} else {
		m.log.Info("resuming checkout %s", m.sess.CheckoutToken)
	}

	steps := []func(context.Context) error{
		func(ctx context.Context) error {
			_, err := m.loadCheckout(ctx, m.sess.CheckoutURL, StepCreateCheckout)
			return err
		},
		func(ctx context.Context) error {
			if m.sess.ShippingSubmitted {
				return nil
			}
			return m.submitShipping(ctx, t.Buyer)
		},
		m.selectRate,
		func(ctx context.Context) error {
			return m.pay(ctx, t.Buyer)
		},
	}
	for _, step := range steps {
		if err := m.checkpoint(ctx); err != nil {
			return err
		}
		if err := step(ctx); err != nil {
			return err
		}
	}

	return nil
}

// checkpoint reports a stop request or a cancelled context as a stopped step.
func (m *Machine) checkpoint(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return fail(StepStopped, err)
	}
	if m.stop() {
		return fail(StepStopped, ErrStopped)
	}
	return nil
}

// sleep waits d, returning early with a stopped step error.
func (m *Machine) sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return fail(StepStopped, ctx.Err())
	case <-timer.C:
	}
	return m.checkpoint(ctx)
}

func (m *Machine) resolve(path string) string {
	if strings.HasPrefix(path, "http://") || strings.HasPrefix(path, "https://") {
		return path
	}
	return m.sess.BaseURL + path
}

func (m *Machine) request(ctx context.Context, rawUrl string, opts network.Options) (*network.Response, error) {
	if opts.Headers == nil {
		opts.Headers = map[string]string{}
	}
	if m.sess.BaseURL != "" {
		if _, ok := opts.Headers["Referer"]; !ok {
			opts.Headers["Referer"] = m.sess.BaseURL + "/"
		}
		if opts.Method != "" && opts.Method != http.MethodGet {
			opts.Headers["Origin"] = m.sess.BaseURL
		}
	}
	return m.sess.Engine.Request(ctx, m.resolve(rawUrl), opts, m.sess.Jar)
}

func (m *Machine) get(ctx context.Context, rawUrl string) (*network.Response, error) {
	return m.request(ctx, rawUrl, network.Options{Method: http.MethodGet})
}

func (m *Machine) postForm(ctx context.Context, rawUrl string, form url.Values) (*network.Response, error) {
	return m.request(ctx, rawUrl, network.Options{
		Method:  http.MethodPost,
		Headers: map[string]string{"Content-Type": "application/x-www-form-urlencoded"},
		Body:    form.Encode(),
	})
}

func (m *Machine) postJSON(ctx context.Context, rawUrl string, payload any, headers map[string]string) (*network.Response, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to encode request body: %w", err)
	}

	allHeaders := map[string]string{
		"Content-Type": "application/json",
		"Accept":       "application/json",
	}
	for k, v := range headers {
		allHeaders[k] = v
	}

	return m.request(ctx, rawUrl, network.Options{
		Method:  http.MethodPost,
		Headers: allHeaders,
		Body:    string(body),
	})
}

// getFollow issues a GET and follows up to MaxRedirects GET redirects.
func (m *Machine) getFollow(ctx context.Context, rawUrl string) (*network.Response, error) {
	resp, err := m.get(ctx, rawUrl)
	for hops := 0; err == nil && resp.IsRedirect(); hops++ {
		if hops >= m.settings.MaxRedirects {
			return nil, fmt.Errorf("stopped after %d redirects at %s", hops, resp.URL)
		}
		resp, err = m.get(ctx, resp.Location())
	}
	return resp, err
}

// submit posts a checkout form, spending the current auth token.
func (m *Machine) submit(ctx context.Context, rawUrl string, form url.Values, step Step) (*network.Response, error) {
	if !m.sess.TokenFresh() {
		return nil, fail(step, ErrStaleToken)
	}
	form.Set("authenticity_token", m.sess.consumeToken())

	resp, err := m.postForm(ctx, rawUrl, form)
	if err != nil {
		return nil, fail(step, err)
	}
	if resp.Status >= 400 {
		return nil, fail(step, customerrors.InferHttpError(resp.Status))
	}
	return resp, nil
}

// stepURL is the checkout url with its step query replaced.
func (m *Machine) stepURL(step string) string {
	parsed, err := url.Parse(m.sess.CheckoutURL)
	if err != nil {
		return m.sess.CheckoutURL + "?step=" + step
	}
	query := parsed.Query()
	query.Set("step", step)
	parsed.RawQuery = query.Encode()
	return parsed.String()
}

// setCheckout adopts a checkout url handed out by the store.
func (m *Machine) setCheckout(location string) {
	parsed, err := url.Parse(location)
	if err == nil {
		parsed.RawQuery = ""
		parsed.Fragment = ""
		location = parsed.String()
	}
	location = strings.TrimRight(location, "/")

	m.sess.CheckoutURL = location
	m.sess.CheckoutToken = location[strings.LastIndex(location, "/")+1:]
}

func isCheckoutURL(location string) bool {
	return strings.Contains(location, "/checkouts/") || strings.Contains(location, "/checkout/")
}
