package assetshandler

import (
	"bufio"
	"fmt"
	"net/url"
	"os"
	"strings"

	"github.com/PeterC02/Pokemon-Store-Bot-Final/app/pkg/assert"
)

// ParseProxy reads one proxy line, ip:port or ip:port:username:password.
func ParseProxy(line string) (*url.URL, error) {
	var proxy string

	proxyDataSlice := strings.Split(strings.TrimSpace(line), ":")
	switch len(proxyDataSlice) {
	case 2:
		proxy = fmt.Sprintf("http://%s:%s", proxyDataSlice[0], proxyDataSlice[1])
	case 4:
		proxy = (&url.URL{
			Scheme: "http",
			User:   url.UserPassword(proxyDataSlice[2], proxyDataSlice[3]),
			Host:   proxyDataSlice[0] + ":" + proxyDataSlice[1],
		}).String()
	default:
		return nil, fmt.Errorf("invalid proxy format %q. Should be ip:port or ip:port:username:password", line)
	}

	if proxyDataSlice[0] == "" || proxyDataSlice[1] == "" {
		return nil, fmt.Errorf("invalid proxy %q: empty host or port", line)
	}

	proxyURL, err := url.Parse(proxy)
	if err != nil {
		return nil, fmt.Errorf("error parsing proxy URL: %w", err)
	}
	if proxyURL.Port() == "" {
		return nil, fmt.Errorf("invalid proxy %q: bad port", line)
	}

	return proxyURL, nil
}

// ParseProxies reads one proxy per line, skipping blank lines and # comments.
func ParseProxies(content string) ([]*url.URL, error) {
	var proxies []*url.URL

	scanner := bufio.NewScanner(strings.NewReader(content))
	for lineNum := 1; scanner.Scan(); lineNum++ {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		proxyURL, err := ParseProxy(line)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", lineNum, err)
		}
		proxies = append(proxies, proxyURL)
	}

	return proxies, scanner.Err()
}

// GetProxiesFromFile loads the proxies file. An empty path means no proxies.
func GetProxiesFromFile(path string) []*url.URL {
	if path == "" {
		return nil
	}

	content, err := os.ReadFile(path)
	assert.NoError(err, "error reading proxies file", assert.AssertData{"path": path})

	proxies, err := ParseProxies(string(content))
	assert.NoError(err, "error parsing proxies file", assert.AssertData{"path": path})

	return proxies
}
