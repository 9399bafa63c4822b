package checkout

import (
	"time"

	"github.com/PeterC02/Pokemon-Store-Bot-Final/app/pkg/cookies"
	"github.com/PeterC02/Pokemon-Store-Bot-Final/app/pkg/network"
	"github.com/PeterC02/Pokemon-Store-Bot-Final/app/pkg/persistence"

	"github.com/google/uuid"
)

// Session is the protocol state of one checkout identity. It is owned by a
// single machine at a time.
type Session struct {
	ID      string
	BaseURL string
	Engine  *network.Engine
	Jar     *cookies.Jar

	AuthToken        string
	PaymentGatewayID string
	CheckoutToken    string
	CheckoutURL      string
	PaymentSessionID string

	ShippingSubmitted bool
	Warmed            bool

	// tokenFresh is true while AuthToken was harvested after the last submission.
	tokenFresh bool
}

func NewSession(baseURL string, engine *network.Engine) *Session {
	return &Session{
		ID:      uuid.NewString(),
		BaseURL: baseURL,
		Engine:  engine,
		Jar:     cookies.New(),
	}
}

func (s *Session) TokenFresh() bool {
	return s.tokenFresh
}

func (s *Session) adoptToken(token string) {
	if token == "" {
		return
	}
	s.AuthToken = token
	s.tokenFresh = true
}

func (s *Session) consumeToken() string {
	s.tokenFresh = false
	return s.AuthToken
}

// resetCheckout drops everything tied to the current checkout, keeping
// cookies and the warm payment session.
func (s *Session) resetCheckout() {
	s.AuthToken = ""
	s.tokenFresh = false
	s.PaymentGatewayID = ""
	s.CheckoutToken = ""
	s.CheckoutURL = ""
	s.ShippingSubmitted = false
}

func (s *Session) Snapshot(now time.Time) *persistence.Snapshot {
	profile := s.Engine.Profile()
	return &persistence.Snapshot{
		SessionID:         s.ID,
		BaseURL:           s.BaseURL,
		Cookies:           s.Jar.Export(),
		UserAgent:         profile.UserAgent,
		Profile:           profile,
		AuthToken:         s.AuthToken,
		PaymentGatewayID:  s.PaymentGatewayID,
		CheckoutToken:     s.CheckoutToken,
		CheckoutURL:       s.CheckoutURL,
		PaymentSessionID:  s.PaymentSessionID,
		ShippingSubmitted: s.ShippingSubmitted,
		Warmed:            s.Warmed,
		HTTP1Fallback:     s.Engine.Downgraded(),
		SavedAt:           now,
	}
}

// Restore loads snap into the session. An expired snapshot, or one saved for
// another store, leaves the session untouched and returns false.
//
// A restored auth token is never fresh: it comes from a page served before the
// snapshot was taken and must be re-harvested before any submission.
func (s *Session) Restore(snap *persistence.Snapshot, now time.Time) bool {
	if snap.Expired(now) {
		return false
	}
	if snap.BaseURL != "" && s.BaseURL != "" && snap.BaseURL != s.BaseURL {
		return false
	}

	if snap.SessionID != "" {
		s.ID = snap.SessionID
	}
	if s.BaseURL == "" {
		s.BaseURL = snap.BaseURL
	}
	s.Jar.Import(snap.Cookies)
	s.AuthToken = snap.AuthToken
	s.tokenFresh = false
	s.PaymentGatewayID = snap.PaymentGatewayID
	s.CheckoutToken = snap.CheckoutToken
	s.CheckoutURL = snap.CheckoutURL
	s.PaymentSessionID = snap.PaymentSessionID
	s.ShippingSubmitted = snap.ShippingSubmitted
	s.Warmed = snap.Warmed
	s.Engine.SetDowngraded(snap.HTTP1Fallback)

	return true
}
