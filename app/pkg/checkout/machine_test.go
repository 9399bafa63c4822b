package checkout

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/PeterC02/Pokemon-Store-Bot-Final/app/pkg/checkout/checkouttest"
	customerrors "github.com/PeterC02/Pokemon-Store-Bot-Final/app/pkg/custom-types/custom-errors"
	"github.com/PeterC02/Pokemon-Store-Bot-Final/app/pkg/events"
	"github.com/PeterC02/Pokemon-Store-Bot-Final/app/pkg/network"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testBuyer(email string) Buyer {
	return Buyer{
		Email: email,
		Address: Address{
			FirstName: "Ash",
			LastName:  "Ketchum",
			Address1:  "1 Route Road",
			City:      "Pallet",
			Province:  "KT",
			Zip:       "10001",
			Country:   "US",
			Phone:     "5550100",
		},
		Card: Card{Number: "4242424242424242", Name: "Ash Ketchum", Month: "12", Year: "2030", CVV: "123"},
	}
}

func fastSettings() Settings {
	return Settings{
		QueuePollInterval:  5 * time.Millisecond,
		QueueJitter:        time.Millisecond,
		QueueCeiling:       2 * time.Second,
		ProcessingInterval: time.Millisecond,
		RateInterval:       time.Millisecond,
	}
}

func newTestMachine(t *testing.T, store *checkouttest.Store, settings Settings) *Machine {
	t.Helper()

	engine := network.NewEngine(network.Config{MaxRetries: 0, Timeout: 5 * time.Second})
	t.Cleanup(engine.Close)

	return NewMachine(NewSession(store.URL, engine), settings, events.NewRecorder(nil, -1, ""))
}

func newStore(t *testing.T, opts checkouttest.Options) *checkouttest.Store {
	t.Helper()
	store := checkouttest.NewStore(opts)
	t.Cleanup(store.Close)
	return store
}

func explicitTarget(email string) Target {
	return Target{VariantID: "102", Quantity: 1, Buyer: testBuyer(email)}
}

func logsContain(out *Outcome, logType events.LogType, fragment string) bool {
	for _, entry := range out.Logs {
		if entry.Type == logType && strings.Contains(entry.Message, fragment) {
			return true
		}
	}
	return false
}

func TestRunCompletesThroughCart(t *testing.T) {
	store := newStore(t, checkouttest.Options{})
	m := newTestMachine(t, store, fastSettings())

	out := m.Run(context.Background(), explicitTarget("ash@example.com"))
	require.True(t, out.Success, out.Error)
	assert.Equal(t, StepComplete, out.Step)
	assert.Equal(t, PathStandard, out.Path)
	assert.Equal(t, ModeFast, out.Mode)
	assert.False(t, out.DryRun)
	assert.Contains(t, out.OrderURL, "/thank_you")

	stats := store.Stats()
	assert.Equal(t, 1, stats.PaymentPosts)
	assert.Equal(t, 1, stats.ShippingPosts)
	assert.Equal(t, 1, stats.RatePosts)
	assert.Equal(t, 0, stats.StaleRejections)
	assert.Equal(t, []string{"ash@example.com"}, stats.Orders)
	assert.Contains(t, stats.Paths, "POST /cart/add.js")
	assert.True(t, logsContain(out, events.LogSuccess, "order placed"))
}

func TestRunUsesDirectLink(t *testing.T) {
	store := newStore(t, checkouttest.Options{DirectLink: true})
	m := newTestMachine(t, store, fastSettings())

	out := m.Run(context.Background(), explicitTarget("ash@example.com"))
	require.True(t, out.Success, out.Error)
	assert.NotContains(t, store.Stats().Paths, "POST /cart/add.js")
	assert.True(t, logsContain(out, events.LogInfo, "direct checkout link accepted"))
}

func TestRunWaitsOutQueue(t *testing.T) {
	store := newStore(t, checkouttest.Options{QueuePolls: 2})
	m := newTestMachine(t, store, fastSettings())

	out := m.Run(context.Background(), explicitTarget("ash@example.com"))
	require.True(t, out.Success, out.Error)
	assert.Equal(t, 2, store.Stats().QueueServed)
	assert.True(t, logsContain(out, events.LogInfo, "queue cleared after 2 polls"))
	assert.Equal(t, 0, store.Stats().StaleRejections)
}

func TestRunFollowsQueuePollURL(t *testing.T) {
	store := newStore(t, checkouttest.Options{QueuePolls: 3, PollEndpoint: true})
	m := newTestMachine(t, store, fastSettings())

	out := m.Run(context.Background(), explicitTarget("ash@example.com"))
	require.True(t, out.Success, out.Error)
	assert.Contains(t, store.Stats().Paths, "GET /throttle/queue/poll")
}

func TestQueueTimeoutLeavesSessionUntouched(t *testing.T) {
	store := newStore(t, checkouttest.Options{QueuePolls: 1 << 20})
	settings := fastSettings()
	settings.QueueCeiling = 60 * time.Millisecond
	m := newTestMachine(t, store, settings)

	out := m.Run(context.Background(), explicitTarget("ash@example.com"))
	require.False(t, out.Success)
	assert.Equal(t, StepQueue, out.Step)
	assert.ErrorIs(t, out.Err, ErrQueueTimeout)

	sess := m.Session()
	assert.NotEmpty(t, sess.CheckoutURL)
	assert.Empty(t, sess.AuthToken)
	assert.False(t, sess.ShippingSubmitted)
	assert.Equal(t, 0, store.Stats().ShippingPosts)
}

func TestDryRunSkipsPaymentSubmission(t *testing.T) {
	store := newStore(t, checkouttest.Options{})
	settings := fastSettings()
	settings.DryRun = true
	m := newTestMachine(t, store, settings)

	out := m.Run(context.Background(), explicitTarget("ash@example.com"))
	require.True(t, out.Success, out.Error)
	assert.True(t, out.DryRun)
	assert.Empty(t, out.OrderURL)
	assert.Equal(t, 0, store.Stats().PaymentPosts)
	assert.Equal(t, 1, store.Stats().RatePosts)
	assert.True(t, logsContain(out, events.LogSuccess, "[dry run]"))
}

func TestShippingFailureReportsShippingStep(t *testing.T) {
	store := newStore(t, checkouttest.Options{FailShipping: true})
	m := newTestMachine(t, store, fastSettings())

	out := m.Run(context.Background(), explicitTarget("ash@example.com"))
	require.False(t, out.Success)
	assert.Equal(t, StepShipping, out.Step)
	assert.ErrorIs(t, out.Err, customerrors.MakeErrorHttpResponse(500, ""))
	assert.True(t, logsContain(out, events.LogError, "shipping"))
	assert.Equal(t, 0, store.Stats().PaymentPosts)
}

func TestInvalidBuyerFailsBeforeAnyRequest(t *testing.T) {
	store := newStore(t, checkouttest.Options{})
	m := newTestMachine(t, store, fastSettings())

	target := explicitTarget("")
	out := m.Run(context.Background(), target)
	assert.Equal(t, StepShipping, out.Step)
	assert.ErrorIs(t, out.Err, ErrInvalidAddress)
	assert.Equal(t, 0, store.Stats().Requests)
}

func TestSubmitRefusesStaleToken(t *testing.T) {
	store := newStore(t, checkouttest.Options{})
	m := newTestMachine(t, store, fastSettings())
	m.sess.CheckoutURL = store.URL + "/checkouts/c1"
	m.sess.AuthToken = "already-used"

	_, err := m.submit(context.Background(), m.sess.CheckoutURL, map[string][]string{}, StepShipping)
	require.ErrorIs(t, err, ErrStaleToken)
	assert.Equal(t, StepShipping, StepOf(err))
	assert.Equal(t, 0, store.Stats().Requests)
}

func TestEverySubmissionSpendsAFreshToken(t *testing.T) {
	store := newStore(t, checkouttest.Options{})
	m := newTestMachine(t, store, fastSettings())

	out := m.Run(context.Background(), explicitTarget("ash@example.com"))
	require.True(t, out.Success, out.Error)
	assert.False(t, m.Session().TokenFresh())
	assert.Equal(t, 0, store.Stats().StaleRejections)
}

func TestRatesEndpointFallback(t *testing.T) {
	store := newStore(t, checkouttest.Options{NoRatesInPage: true, RatesPending: 2})
	m := newTestMachine(t, store, fastSettings())

	out := m.Run(context.Background(), explicitTarget("ash@example.com"))
	require.True(t, out.Success, out.Error)
	assert.Contains(t, store.Stats().Paths, "GET /checkouts/c1/shipping_rates.json")
	assert.True(t, logsContain(out, events.LogInfo, checkouttest.RateID))
}

func TestProcessingIsPolledUntilConfirmed(t *testing.T) {
	store := newStore(t, checkouttest.Options{ProcessingPolls: 2})
	m := newTestMachine(t, store, fastSettings())

	out := m.Run(context.Background(), explicitTarget("ash@example.com"))
	require.True(t, out.Success, out.Error)
	assert.Contains(t, out.OrderURL, "/thank_you")
	assert.True(t, logsContain(out, events.LogInfo, "payment is processing"))
}

func TestProcessingGivesUpAfterPollLimit(t *testing.T) {
	store := newStore(t, checkouttest.Options{ProcessingPolls: 50})
	settings := fastSettings()
	settings.ProcessingPolls = 3
	m := newTestMachine(t, store, settings)

	out := m.Run(context.Background(), explicitTarget("ash@example.com"))
	require.False(t, out.Success)
	assert.Equal(t, StepPayment, out.Step)
	assert.ErrorIs(t, out.Err, ErrNotConfirmed)
}

func TestDeclinedPaymentFailsAtPayment(t *testing.T) {
	store := newStore(t, checkouttest.Options{SucceedFor: func(string) bool { return false }})
	m := newTestMachine(t, store, fastSettings())

	out := m.Run(context.Background(), explicitTarget("ash@example.com"))
	require.False(t, out.Success)
	assert.Equal(t, StepPayment, out.Step)
	assert.ErrorIs(t, out.Err, ErrNotConfirmed)
	assert.Equal(t, 1, store.Stats().PaymentPosts)
}

func TestMissingPaymentTokenRetriesCheckoutURL(t *testing.T) {
	store := newStore(t, checkouttest.Options{OmitPaymentToken: true})
	m := newTestMachine(t, store, fastSettings())

	out := m.Run(context.Background(), explicitTarget("ash@example.com"))
	require.True(t, out.Success, out.Error)
	assert.True(t, logsContain(out, events.LogInfo, "retrying against the checkout url"))
}

func TestMissingTokenIsFatalAtPayment(t *testing.T) {
	store := newStore(t, checkouttest.Options{OmitTokenAfterRate: true})
	m := newTestMachine(t, store, fastSettings())

	out := m.Run(context.Background(), explicitTarget("ash@example.com"))
	require.False(t, out.Success)
	assert.Equal(t, StepPayment, out.Step)
	assert.ErrorIs(t, out.Err, ErrMissingToken)
	assert.Equal(t, 0, store.Stats().PaymentPosts)
}

func TestVaultSessionIsSubmitted(t *testing.T) {
	store := newStore(t, checkouttest.Options{})
	settings := fastSettings()
	settings.VaultURL = store.VaultURL()
	m := newTestMachine(t, store, settings)

	out := m.Run(context.Background(), explicitTarget("ash@example.com"))
	require.True(t, out.Success, out.Error)
	assert.Equal(t, 1, store.Stats().VaultCalls)
}

func TestVaultFailureFallsBackToCardFields(t *testing.T) {
	store := newStore(t, checkouttest.Options{VaultFails: true})
	settings := fastSettings()
	settings.VaultURL = store.VaultURL()
	m := newTestMachine(t, store, settings)

	out := m.Run(context.Background(), explicitTarget("ash@example.com"))
	require.True(t, out.Success, out.Error)
	assert.True(t, logsContain(out, events.LogError, "card tokenization failed"))
}

func TestSoldOutFailsAtAddToCart(t *testing.T) {
	store := newStore(t, checkouttest.Options{SoldOut: true})
	m := newTestMachine(t, store, fastSettings())

	out := m.Run(context.Background(), explicitTarget("ash@example.com"))
	require.False(t, out.Success)
	assert.Equal(t, StepAddToCart, out.Step)
	assert.ErrorIs(t, out.Err, customerrors.ErrorUnprocessable)
}

func TestStorefrontPath(t *testing.T) {
	store := newStore(t, checkouttest.Options{Storefront: true})
	settings := fastSettings()
	settings.StorefrontToken = "public-token"
	m := newTestMachine(t, store, settings)

	out := m.Run(context.Background(), explicitTarget("ash@example.com"))
	require.True(t, out.Success, out.Error)
	assert.Equal(t, PathStorefront, out.Path)

	stats := store.Stats()
	assert.Equal(t, 2, stats.GraphQLCalls)
	assert.Equal(t, 0, stats.ShippingPosts)
	assert.Equal(t, 0, stats.RatePosts)
	assert.Equal(t, 1, stats.PaymentPosts)
}

func TestStorefrontFailureFallsBack(t *testing.T) {
	store := newStore(t, checkouttest.Options{})
	settings := fastSettings()
	settings.StorefrontToken = "public-token"
	m := newTestMachine(t, store, settings)

	out := m.Run(context.Background(), explicitTarget("ash@example.com"))
	require.True(t, out.Success, out.Error)
	assert.Equal(t, PathStandard, out.Path)
	assert.True(t, logsContain(out, events.LogInfo, "falling back to the standard flow"))
	assert.Equal(t, 1, store.Stats().ShippingPosts)
}

func TestStopIsHonouredBetweenSteps(t *testing.T) {
	store := newStore(t, checkouttest.Options{})
	m := newTestMachine(t, store, fastSettings()).WithStop(func() bool { return true })

	out := m.Run(context.Background(), explicitTarget("ash@example.com"))
	require.False(t, out.Success)
	assert.Equal(t, StepStopped, out.Step)
	assert.ErrorIs(t, out.Err, ErrStopped)
	assert.Equal(t, 0, store.Stats().Requests)
}

func TestCancelledContextStopsQueueWait(t *testing.T) {
	store := newStore(t, checkouttest.Options{QueuePolls: 1 << 20})
	settings := fastSettings()
	settings.QueueCeiling = time.Minute
	m := newTestMachine(t, store, settings)

	ctx, cancel := context.WithTimeout(context.Background(), 80*time.Millisecond)
	defer cancel()

	out := m.Run(ctx, explicitTarget("ash@example.com"))
	require.False(t, out.Success)
	assert.Equal(t, StepStopped, out.Step)
}

func TestWarmPrepaysAndRunConsumesSession(t *testing.T) {
	store := newStore(t, checkouttest.Options{})
	settings := fastSettings()
	settings.VaultURL = store.VaultURL()
	settings.PrewarmPayment = true
	m := newTestMachine(t, store, settings)
	target := explicitTarget("ash@example.com")

	require.NoError(t, m.Warm(context.Background(), target))
	sess := m.Session()
	assert.True(t, sess.Warmed)
	assert.NotEmpty(t, sess.PaymentSessionID)
	cookieHeader := sess.Jar.Get(store.URL)
	assert.Contains(t, cookieHeader, "store_sid=")
	assert.Contains(t, cookieHeader, "cart=")
	assert.Contains(t, cookieHeader, "localization=US")

	out := m.WithMode(ModeWarm).Run(context.Background(), target)
	require.True(t, out.Success, out.Error)
	assert.Equal(t, ModeWarm, out.Mode)
	assert.Equal(t, 1, store.Stats().VaultCalls)
	assert.Empty(t, sess.PaymentSessionID)
	assert.True(t, logsContain(out, events.LogInfo, "payment session created during warm-up"))
}
