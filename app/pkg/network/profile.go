package network

import (
	utls "github.com/refraction-networking/utls"
)

// clientHelloID is the one handshake profile every connection negotiates with.
// It is the Go crypto/tls hello, consistent with the user agent the profile declares.
var clientHelloID = utls.HelloGolang

const DefaultUserAgent = "pokemon-store-checkout/1.0 (+go-http-client)"

// Profile is the identity a session presents in its request headers.
type Profile struct {
	UserAgent      string            `json:"userAgent"`
	AcceptLanguage string            `json:"acceptLanguage,omitempty"`
	Extra          map[string]string `json:"extra,omitempty"`
}

func NewProfile(userAgent string) Profile {
	if userAgent == "" {
		userAgent = DefaultUserAgent
	}
	return Profile{
		UserAgent:      userAgent,
		AcceptLanguage: "en-US,en;q=0.9",
	}
}

// ClientHello names the handshake profile, recorded in session snapshots.
func (p Profile) ClientHello() string {
	return clientHelloID.Str()
}

func (p Profile) GetFullHeaders() map[string]string {
	fullHeaders := map[string]string{
		"User-Agent":      p.UserAgent,
		"Accept":          "text/html,application/xhtml+xml,application/json;q=0.9,*/*;q=0.8",
		"Accept-Language": p.AcceptLanguage,
		"Accept-Encoding": "gzip, deflate, br, zstd",
	}
	if p.AcceptLanguage == "" {
		delete(fullHeaders, "Accept-Language")
	}

	for k, v := range p.Extra {
		fullHeaders[k] = v
	}

	return fullHeaders
}
