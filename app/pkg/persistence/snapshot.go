// Package persistence stores warm session state between process runs.
package persistence

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/PeterC02/Pokemon-Store-Bot-Final/app/pkg/network"
)

// MaxAge is how long a snapshot stays usable after it was saved.
const MaxAge = 4 * time.Hour

// Snapshot is the saved state of one warm session.
type Snapshot struct {
	SessionID string                       `json:"sessionId"`
	BaseURL   string                       `json:"baseUrl"`
	Cookies   map[string]map[string]string `json:"cookies"`
	UserAgent string                       `json:"userAgent"`
	Profile   network.Profile              `json:"profile"`

	AuthToken        string `json:"authToken,omitempty"`
	PaymentGatewayID string `json:"paymentGatewayId,omitempty"`
	CheckoutToken    string `json:"checkoutToken,omitempty"`
	CheckoutURL      string `json:"checkoutUrl,omitempty"`

	// PaymentSessionID is the card vault session created during warm-up.
	PaymentSessionID  string `json:"paymentSessionId,omitempty"`
	ShippingSubmitted bool   `json:"shippingSubmitted"`
	Warmed            bool   `json:"warmed"`

	// HTTP1Fallback records that the store refused HTTP/2 for this session.
	HTTP1Fallback bool `json:"http1Fallback"`

	SavedAt time.Time `json:"savedAt"`
}

func (s *Snapshot) Expired(now time.Time) bool {
	return s == nil || now.Sub(s.SavedAt) > MaxAge
}

// Save writes the snapshot to path, replacing any previous one atomically.
func Save(path string, snap *Snapshot) error {
	if snap == nil {
		return errors.New("nil snapshot")
	}

	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode snapshot: %w", err)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create snapshot dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp snapshot: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to write snapshot: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to write snapshot: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to replace snapshot: %w", err)
	}

	return nil
}

// Load reads the snapshot at path. A missing or expired snapshot is not an
// error: it returns (nil, false, nil).
func Load(path string, now time.Time) (*Snapshot, bool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("failed to read snapshot: %w", err)
	}

	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, false, fmt.Errorf("failed to decode snapshot: %w", err)
	}
	if snap.Expired(now) {
		return nil, false, nil
	}

	return &snap, true, nil
}

// Remove deletes the snapshot at path, if any.
func Remove(path string) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}
