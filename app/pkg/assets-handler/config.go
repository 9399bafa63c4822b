package assetshandler

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"time"

	"github.com/PeterC02/Pokemon-Store-Bot-Final/app/pkg/assert"
	"github.com/PeterC02/Pokemon-Store-Bot-Final/app/pkg/checkout"
	"github.com/PeterC02/Pokemon-Store-Bot-Final/app/pkg/fleet"
	"github.com/PeterC02/Pokemon-Store-Bot-Final/app/pkg/network"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Store    store       `yaml:"store"`
	Http     http        `yaml:"http"`
	Checkout checkoutCfg `yaml:"checkout"`
	Fleet    fleetCfg    `yaml:"fleet"`
	Session  session     `yaml:"session"`
	Events   eventsCfg   `yaml:"events"`
	Target   target      `yaml:"target"`
}

type store struct {
	BaseUrl           string `yaml:"base_url"`
	VaultUrl          string `yaml:"vault_url"`
	StorefrontToken   string `yaml:"storefront_token"`
	StorefrontVersion string `yaml:"storefront_version"`
}

type http struct {
	Timeout            int    `yaml:"requests_timeout_seconds"`
	MaxRetries         *int   `yaml:"max_retries"`
	RetryBaseDelay     int    `yaml:"retry_base_delay_milli"`
	UserAgent          string `yaml:"user_agent"`
	AcceptLanguage     string `yaml:"accept_language"`
	InsecureSkipVerify bool   `yaml:"insecure_skip_verify"`
}

type checkoutCfg struct {
	DryRun             bool `yaml:"dry_run"`
	PrewarmPayment     bool `yaml:"prewarm_payment"`
	CatalogPages       int  `yaml:"catalog_pages"`
	QueuePollInterval  int  `yaml:"queue_poll_interval_milli"`
	QueueJitter        int  `yaml:"queue_jitter_milli"`
	QueueCeiling       int  `yaml:"queue_ceiling_seconds"`
	ProcessingPolls    int  `yaml:"processing_polls"`
	ProcessingInterval int  `yaml:"processing_interval_milli"`
}

type fleetCfg struct {
	Stagger            int  `yaml:"stagger_milli"`
	StopOnFirstSuccess bool `yaml:"stop_on_first_success"`
}

type session struct {
	SnapshotPath string `yaml:"snapshot_path"`
}

type eventsCfg struct {
	WsUrls    []string               `yaml:"ws_urls"`
	WsHeaders map[string]interface{} `yaml:"ws_headers"`
}

type target struct {
	ProductHandle string `yaml:"product_handle"`
	ItemName      string `yaml:"item_name"`
	VariantID     string `yaml:"variant_id"`
	Quantity      int    `yaml:"quantity"`

	// StartAt is the RFC 3339 release time the warm mode waits for. Optional.
	StartAt string `yaml:"start_at"`
}

// ParseConfig decodes a yaml config and fills the defaults.
func ParseConfig(data []byte) (Config, error) {
	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return Config{}, fmt.Errorf("error unmarshalling config: %w", err)
	}

	if config.Store.BaseUrl == "" {
		return Config{}, errors.New("store.base_url is required")
	}
	base, err := url.Parse(config.Store.BaseUrl)
	if err != nil || (base.Scheme != "http" && base.Scheme != "https") || base.Host == "" {
		return Config{}, fmt.Errorf("store.base_url %q is not an http(s) url", config.Store.BaseUrl)
	}
	if config.Target.VariantID == "" && config.Target.ProductHandle == "" && config.Target.ItemName == "" {
		return Config{}, errors.New("target needs a variant_id, product_handle or item_name")
	}
	if _, err := config.StartAt(); err != nil {
		return Config{}, err
	}

	if config.Http.Timeout <= 0 {
		config.Http.Timeout = int(network.DefaultTimeout / time.Second)
	}
	if config.Http.MaxRetries == nil || *config.Http.MaxRetries < 0 {
		maxRetries := network.DefaultMaxRetries
		config.Http.MaxRetries = &maxRetries
	}
	if config.Http.RetryBaseDelay <= 0 {
		config.Http.RetryBaseDelay = int(network.DefaultRetryBaseDelay / time.Millisecond)
	}
	if config.Fleet.Stagger <= 0 {
		config.Fleet.Stagger = int(fleet.DefaultStagger / time.Millisecond)
	}
	if config.Target.Quantity <= 0 {
		config.Target.Quantity = 1
	}

	return config, nil
}

func GetConfigFromFile(path string) Config {
	assert.Assert(path != "", "config file path cannot be empty", assert.AssertData{"path": path})

	configBytes, err := os.ReadFile(path)
	assert.NoError(err, "error reading config file", assert.AssertData{"path": path})

	config, err := ParseConfig(configBytes)
	assert.NoError(err, "error parsing config file", assert.AssertData{"path": path})

	return config
}

// StartAt is the parsed release time, zero when unset.
func (c Config) StartAt() (time.Time, error) {
	if c.Target.StartAt == "" {
		return time.Time{}, nil
	}
	startAt, err := time.Parse(time.RFC3339, c.Target.StartAt)
	if err != nil {
		return time.Time{}, fmt.Errorf("target.start_at: %w", err)
	}
	return startAt, nil
}

func (c Config) EngineConfig() network.Config {
	profile := network.NewProfile(c.Http.UserAgent)
	if c.Http.AcceptLanguage != "" {
		profile.AcceptLanguage = c.Http.AcceptLanguage
	}

	maxRetries := network.DefaultMaxRetries
	if c.Http.MaxRetries != nil {
		maxRetries = *c.Http.MaxRetries
	}

	return network.Config{
		Timeout:            time.Duration(c.Http.Timeout) * time.Second,
		MaxRetries:         maxRetries,
		RetryBaseDelay:     time.Duration(c.Http.RetryBaseDelay) * time.Millisecond,
		Profile:            profile,
		InsecureSkipVerify: c.Http.InsecureSkipVerify,
	}
}

func (c Config) CheckoutSettings() checkout.Settings {
	return checkout.Settings{
		DryRun:             c.Checkout.DryRun,
		VaultURL:           c.Store.VaultUrl,
		PrewarmPayment:     c.Checkout.PrewarmPayment,
		StorefrontToken:    c.Store.StorefrontToken,
		StorefrontVersion:  c.Store.StorefrontVersion,
		CatalogPages:       c.Checkout.CatalogPages,
		QueuePollInterval:  time.Duration(c.Checkout.QueuePollInterval) * time.Millisecond,
		QueueJitter:        time.Duration(c.Checkout.QueueJitter) * time.Millisecond,
		QueueCeiling:       time.Duration(c.Checkout.QueueCeiling) * time.Second,
		ProcessingPolls:    c.Checkout.ProcessingPolls,
		ProcessingInterval: time.Duration(c.Checkout.ProcessingInterval) * time.Millisecond,
	}.WithDefaults()
}

func (c Config) FleetConfig() fleet.Config {
	return fleet.Config{
		Stagger:            time.Duration(c.Fleet.Stagger) * time.Millisecond,
		StopOnFirstSuccess: c.Fleet.StopOnFirstSuccess,
	}
}

// CheckoutTarget builds the checkout target for buyer.
func (c Config) CheckoutTarget(buyer checkout.Buyer) checkout.Target {
	return checkout.Target{
		BaseURL:       c.Store.BaseUrl,
		ProductHandle: c.Target.ProductHandle,
		ItemName:      c.Target.ItemName,
		VariantID:     c.Target.VariantID,
		Quantity:      c.Target.Quantity,
		Buyer:         buyer,
	}
}
