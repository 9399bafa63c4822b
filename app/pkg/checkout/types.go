package checkout

import (
	"errors"
	"fmt"
	"time"

	"github.com/PeterC02/Pokemon-Store-Bot-Final/app/pkg/events"
)

// Step names the place in the checkout flow an outcome refers to.
type Step string

const (
	StepResolveVariant Step = "resolve-variant"
	StepAddToCart      Step = "add-to-cart"
	StepCreateCheckout Step = "create-checkout"
	StepQueue          Step = "queue"
	StepShipping       Step = "shipping"
	StepShippingRate   Step = "shipping-rate"
	StepPayment        Step = "payment"
	StepWarm           Step = "warm"
	StepComplete       Step = "complete"
	StepStopped        Step = "stopped"
	StepFatal          Step = "fatal"
)

type Mode string

const (
	ModeFast Mode = "fast"
	ModeWarm Mode = "warm"
)

const (
	PathStandard   = "standard"
	PathStorefront = "storefront"
)

var (
	ErrNoVariant       = errors.New("no available variant matched the target")
	ErrNoCheckout      = errors.New("store did not hand out a checkout url")
	ErrStaleToken      = errors.New("auth token was already used by a previous submission")
	ErrMissingToken    = errors.New("auth token not found on checkout page")
	ErrMissingGateway  = errors.New("payment gateway id not found on checkout page")
	ErrNoRates         = errors.New("no shipping rates offered")
	ErrQueueTimeout    = errors.New("queue did not clear before the deadline")
	ErrNotConfirmed    = errors.New("order confirmation not observed")
	ErrInvalidAddress  = errors.New("shipping profile is missing required fields")
	ErrStopped         = errors.New("stop requested")
	errDirectLinkNoHit = errors.New("direct checkout link did not redirect to a checkout")
)

// StepError ties a failure to the step it happened in.
type StepError struct {
	Step Step
	Err  error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("%s: %v", e.Step, e.Err)
}

func (e *StepError) Unwrap() error {
	return e.Err
}

func fail(step Step, err error) error {
	var stepErr *StepError
	if errors.As(err, &stepErr) {
		return err
	}
	return &StepError{Step: step, Err: err}
}

// StepOf returns the step an error was tagged with, or StepFatal.
func StepOf(err error) Step {
	var stepErr *StepError
	if errors.As(err, &stepErr) {
		return stepErr.Step
	}
	return StepFatal
}

type Address struct {
	FirstName string `yaml:"first_name" json:"firstName"`
	LastName  string `yaml:"last_name" json:"lastName"`
	Address1  string `yaml:"address1" json:"address1"`
	Address2  string `yaml:"address2" json:"address2,omitempty"`
	City      string `yaml:"city" json:"city"`
	Province  string `yaml:"province" json:"province"`
	Zip       string `yaml:"zip" json:"zip"`
	Country   string `yaml:"country" json:"country"`
	Phone     string `yaml:"phone" json:"phone,omitempty"`
}

type Card struct {
	Number string `yaml:"number" json:"-"`
	Name   string `yaml:"name" json:"-"`
	Month  string `yaml:"month" json:"-"`
	Year   string `yaml:"year" json:"-"`
	CVV    string `yaml:"cvv" json:"-"`
}

func (c Card) empty() bool {
	return c.Number == ""
}

// Buyer is the person an attempt orders for.
type Buyer struct {
	Email   string  `yaml:"email" json:"email"`
	Address Address `yaml:"address" json:"address"`
	Card    Card    `yaml:"card" json:"-"`
}

func (b Buyer) validate() error {
	missing := []string{}
	if b.Email == "" {
		missing = append(missing, "email")
	}
	if b.Address.LastName == "" {
		missing = append(missing, "last name")
	}
	if b.Address.Address1 == "" {
		missing = append(missing, "address1")
	}
	if b.Address.City == "" {
		missing = append(missing, "city")
	}
	if b.Address.Zip == "" {
		missing = append(missing, "zip")
	}
	if b.Address.Country == "" {
		missing = append(missing, "country")
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: %v", ErrInvalidAddress, missing)
	}
	return nil
}

// Target describes what to buy and for whom.
type Target struct {
	BaseURL string

	// ProductHandle is the product page slug used by the product data lookup.
	ProductHandle string

	// ItemName is matched against variant and product titles.
	ItemName string

	// VariantID skips every lookup when set.
	VariantID string

	Quantity int
	Buyer    Buyer
}

type Variant struct {
	ID        string
	Title     string
	Price     string
	Available bool
}

// Outcome is the result of one checkout attempt.
type Outcome struct {
	Success  bool              `json:"success"`
	Step     Step              `json:"step"`
	Err      error             `json:"-"`
	Error    string            `json:"error,omitempty"`
	DryRun   bool              `json:"dryRun"`
	Mode     Mode              `json:"mode"`
	Path     string            `json:"path"`
	Elapsed  time.Duration     `json:"elapsed"`
	OrderURL string            `json:"orderUrl,omitempty"`
	Logs     []events.LogEntry `json:"logs"`
}

// Settings tunes the checkout flow. Zero values take the defaults.
type Settings struct {
	DryRun bool

	// VaultURL is the card tokenization endpoint. Tokenization is skipped when empty.
	VaultURL string

	// PrewarmPayment tokenizes the card during warm-up.
	PrewarmPayment bool

	// StorefrontToken enables the storefront API path.
	StorefrontToken   string
	StorefrontVersion string

	CatalogPages int

	QueuePollInterval time.Duration
	QueueJitter       time.Duration
	QueueCeiling      time.Duration

	ProcessingPolls    int
	ProcessingInterval time.Duration

	RatePolls    int
	RateInterval time.Duration

	MaxRedirects int
}

func DefaultSettings() Settings {
	return Settings{}.WithDefaults()
}

func (s Settings) WithDefaults() Settings {
	if s.StorefrontVersion == "" {
		s.StorefrontVersion = "2024-04"
	}
	if s.CatalogPages <= 0 {
		s.CatalogPages = 3
	}
	if s.QueuePollInterval <= 0 {
		s.QueuePollInterval = 2 * time.Second
	}
	if s.QueueJitter < 0 {
		s.QueueJitter = 0
	} else if s.QueueJitter == 0 {
		s.QueueJitter = time.Second
	}
	if s.QueueCeiling <= 0 {
		s.QueueCeiling = 120 * time.Second
	}
	if s.ProcessingPolls <= 0 {
		s.ProcessingPolls = 10
	}
	if s.ProcessingInterval <= 0 {
		s.ProcessingInterval = 2 * time.Second
	}
	if s.RatePolls <= 0 {
		s.RatePolls = 5
	}
	if s.RateInterval <= 0 {
		s.RateInterval = 500 * time.Millisecond
	}
	if s.MaxRedirects <= 0 {
		s.MaxRedirects = 5
	}
	return s
}
