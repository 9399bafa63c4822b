package checkout

import (
	"testing"
	"time"

	"github.com/PeterC02/Pokemon-Store-Bot-Final/app/pkg/network"
	"github.com/PeterC02/Pokemon-Store-Bot-Final/app/pkg/persistence"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSnapshotRoundTrip(t *testing.T) {
	now := time.Now()
	sess := NewSession("https://store.example", network.NewEngine(network.Config{}))
	require.NoError(t, sess.Jar.Update("https://store.example/", []string{"cart=c1; Path=/"}))
	sess.adoptToken("tok-1")
	sess.PaymentGatewayID = "9001"
	sess.CheckoutURL = "https://store.example/checkouts/abc"
	sess.CheckoutToken = "abc"
	sess.PaymentSessionID = "vault-1"
	sess.Warmed = true
	sess.Engine.SetDowngraded(true)

	snap := sess.Snapshot(now)
	assert.Equal(t, sess.ID, snap.SessionID)
	assert.Equal(t, network.DefaultUserAgent, snap.UserAgent)
	assert.True(t, snap.HTTP1Fallback)

	restored := NewSession("https://store.example", network.NewEngine(network.Config{}))
	require.True(t, restored.Restore(snap, now.Add(time.Hour)))
	assert.Equal(t, sess.ID, restored.ID)
	assert.Equal(t, "cart=c1", restored.Jar.Get("https://store.example/cart"))
	assert.Equal(t, "tok-1", restored.AuthToken)
	assert.False(t, restored.TokenFresh(), "a restored token must be re-harvested")
	assert.Equal(t, "9001", restored.PaymentGatewayID)
	assert.Equal(t, "abc", restored.CheckoutToken)
	assert.Equal(t, "vault-1", restored.PaymentSessionID)
	assert.True(t, restored.Warmed)
	assert.True(t, restored.Engine.Downgraded())
}

func TestExpiredSnapshotLeavesSessionFresh(t *testing.T) {
	now := time.Now()
	snap := &persistence.Snapshot{
		SessionID:   "old",
		BaseURL:     "https://store.example",
		Cookies:     map[string]map[string]string{"store.example": {"cart": "stale"}},
		CheckoutURL: "https://store.example/checkouts/old",
		Warmed:      true,
		SavedAt:     now.Add(-5 * time.Hour),
	}

	sess := NewSession("https://store.example", network.NewEngine(network.Config{}))
	id := sess.ID
	assert.False(t, sess.Restore(snap, now))
	assert.Equal(t, id, sess.ID)
	assert.Empty(t, sess.Jar.Get("https://store.example"))
	assert.Empty(t, sess.CheckoutURL)
	assert.False(t, sess.Warmed)
}

func TestSnapshotForOtherStoreIsIgnored(t *testing.T) {
	now := time.Now()
	snap := &persistence.Snapshot{BaseURL: "https://other.example", Warmed: true, SavedAt: now}

	sess := NewSession("https://store.example", network.NewEngine(network.Config{}))
	assert.False(t, sess.Restore(snap, now))
	assert.False(t, sess.Warmed)
}

func TestResetCheckoutKeepsCookies(t *testing.T) {
	sess := NewSession("https://store.example", network.NewEngine(network.Config{}))
	require.NoError(t, sess.Jar.Update("https://store.example/", []string{"cart=c1"}))
	sess.adoptToken("tok")
	sess.CheckoutURL = "https://store.example/checkouts/x"
	sess.ShippingSubmitted = true
	sess.PaymentSessionID = "vault-1"

	sess.resetCheckout()
	assert.Empty(t, sess.AuthToken)
	assert.False(t, sess.TokenFresh())
	assert.Empty(t, sess.CheckoutURL)
	assert.False(t, sess.ShippingSubmitted)
	assert.Equal(t, "vault-1", sess.PaymentSessionID)
	assert.Equal(t, "cart=c1", sess.Jar.Get("https://store.example"))
}

func TestStepErrorTagging(t *testing.T) {
	err := fail(StepShipping, ErrNoRates)
	assert.Equal(t, StepShipping, StepOf(err))
	assert.ErrorIs(t, err, ErrNoRates)
	assert.Equal(t, "shipping: no shipping rates offered", err.Error())

	assert.Equal(t, StepShipping, StepOf(fail(StepPayment, err)), "the first step tag wins")
	assert.Equal(t, StepFatal, StepOf(ErrNoRates))
}
