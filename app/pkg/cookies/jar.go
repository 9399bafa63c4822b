// Package cookies is a per-session cookie store keyed by request host.
//
// It deliberately models no expiry, path or secure attributes: sessions are
// short lived and a cookie stays valid until the jar is cleared.
package cookies

import (
	"fmt"
	"net/url"
	"sort"
	"strings"
	"sync"
)

type Jar struct {
	mu      sync.RWMutex
	domains map[string]map[string]string
}

func New() *Jar {
	return &Jar{domains: make(map[string]map[string]string)}
}

// Update stores the name=value prefix of each Set-Cookie header under the host of rawUrl.
func (j *Jar) Update(rawUrl string, setCookieHeaders []string) error {
	host, err := hostOf(rawUrl)
	if err != nil {
		return err
	}
	if len(setCookieHeaders) == 0 {
		return nil
	}

	j.mu.Lock()
	defer j.mu.Unlock()

	bucket, ok := j.domains[host]
	if !ok {
		bucket = make(map[string]string)
		j.domains[host] = bucket
	}

	for _, header := range setCookieHeaders {
		pair, _, _ := strings.Cut(header, ";")
		name, value, found := strings.Cut(pair, "=")
		name = strings.TrimSpace(name)
		if !found || name == "" {
			continue
		}
		bucket[name] = strings.TrimSpace(value)
	}

	return nil
}

// Get returns the Cookie header value for rawUrl. Cookies stored under the exact
// host take precedence over those of parent or child hosts with the same name.
func (j *Jar) Get(rawUrl string) string {
	host, err := hostOf(rawUrl)
	if err != nil {
		return ""
	}

	j.mu.RLock()
	defer j.mu.RUnlock()

	merged := make(map[string]string)
	for domain, bucket := range j.domains {
		if domain == host || !related(domain, host) {
			continue
		}
		for name, value := range bucket {
			merged[name] = value
		}
	}
	for name, value := range j.domains[host] {
		merged[name] = value
	}

	if len(merged) == 0 {
		return ""
	}

	names := make([]string, 0, len(merged))
	for name := range merged {
		names = append(names, name)
	}
	sort.Strings(names)

	pairs := make([]string, len(names))
	for idx, name := range names {
		pairs[idx] = name + "=" + merged[name]
	}

	return strings.Join(pairs, "; ")
}

func (j *Jar) Clear() {
	j.mu.Lock()
	defer j.mu.Unlock()

	j.domains = make(map[string]map[string]string)
}

// Export returns a deep copy of the jar contents.
func (j *Jar) Export() map[string]map[string]string {
	j.mu.RLock()
	defer j.mu.RUnlock()

	out := make(map[string]map[string]string, len(j.domains))
	for domain, bucket := range j.domains {
		copied := make(map[string]string, len(bucket))
		for name, value := range bucket {
			copied[name] = value
		}
		out[domain] = copied
	}

	return out
}

// Import replaces the jar contents with a copy of contents.
func (j *Jar) Import(contents map[string]map[string]string) {
	j.mu.Lock()
	defer j.mu.Unlock()

	j.domains = make(map[string]map[string]string, len(contents))
	for domain, bucket := range contents {
		copied := make(map[string]string, len(bucket))
		for name, value := range bucket {
			copied[name] = value
		}
		j.domains[strings.ToLower(domain)] = copied
	}
}

func related(a, b string) bool {
	return strings.HasSuffix(a, "."+b) || strings.HasSuffix(b, "."+a)
}

func hostOf(rawUrl string) (string, error) {
	parsed, err := url.Parse(rawUrl)
	if err != nil {
		return "", fmt.Errorf("could not parse cookie url: %w", err)
	}

	host := strings.ToLower(parsed.Hostname())
	if host == "" {
		return "", fmt.Errorf("cookie url %q has no host", rawUrl)
	}

	return host, nil
}
