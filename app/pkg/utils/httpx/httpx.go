package httpx

import (
	"bufio"
	"context"
	"crypto/x509"
	"encoding/base64"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"time"

	utls "github.com/refraction-networking/utls"
)

const dialTimeout = 5 * time.Second

func setHeaders(req *http.Request, headers map[string]string) {
	for k, v := range headers {
		req.Header.Set(k, v)
	}
}

func BuildRequest(
	ctx context.Context,
	method string,
	url string,
	body io.Reader,
	headers map[string]string,
) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, err
	}

	setHeaders(req, headers)

	return req, nil
}

// DialTCP opens a raw TCP connection to targetAddr, tunnelled through proxyUrl
// with HTTP CONNECT when a proxy is given.
func DialTCP(ctx context.Context, targetAddr string, proxyUrl *url.URL) (net.Conn, error) {
	dialer := &net.Dialer{Timeout: dialTimeout, KeepAlive: 15 * time.Second}

	if proxyUrl == nil {
		return dialer.DialContext(ctx, "tcp", targetAddr)
	}

	conn, err := dialer.DialContext(ctx, "tcp", proxyUrl.Host)
	if err != nil {
		return nil, fmt.Errorf("failed to open TCP connection to proxy: %w", err)
	}

	if deadline, ok := ctx.Deadline(); ok {
		conn.SetDeadline(deadline)
		defer conn.SetDeadline(time.Time{})
	}

	// Use the CONNECT method to instruct the proxy to open a direct raw TCP connection to the target
	// Without this step, the proxy would see all data encrypted and would not be able to route it
	// to the target server
	fmt.Fprintf(conn, "CONNECT %s HTTP/1.1\r\nHost: %s\r\n", targetAddr, targetAddr)
	if proxyUrl.User != nil {
		password, _ := proxyUrl.User.Password()
		encodedAuth := base64.StdEncoding.EncodeToString(
			[]byte(proxyUrl.User.Username() + ":" + password),
		)
		fmt.Fprintf(conn, "Proxy-Authorization: Basic %s\r\n", encodedAuth)
	}
	fmt.Fprint(conn, "\r\n") // CRLF

	resp, err := http.ReadResponse(bufio.NewReader(conn), nil)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open TCP connection between proxy and target: %w", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		conn.Close()
		return nil, fmt.Errorf("proxy refused CONNECT to %s: %s", targetAddr, resp.Status)
	}

	return conn, nil
}

type TLSOptions struct {
	NextProtos         []string
	RootCAs            *x509.CertPool
	InsecureSkipVerify bool
}

// DialUTLS dials targetAddr (through proxyUrl if set) and runs the TLS handshake
// with the given ClientHello profile.
func DialUTLS(
	ctx context.Context,
	targetAddr string,
	proxyUrl *url.URL,
	utlsProfile utls.ClientHelloID,
	opts TLSOptions,
) (*utls.UConn, error) {
	conn, err := DialTCP(ctx, targetAddr, proxyUrl)
	if err != nil {
		return nil, err
	}

	// Remove the port from targetAddr to use it as ServerName
	serverName, _, err := net.SplitHostPort(targetAddr)
	if err != nil {
		conn.Close()
		return nil, err
	}

	tlsConfig := &utls.Config{
		ServerName:         serverName,
		NextProtos:         opts.NextProtos,
		RootCAs:            opts.RootCAs,
		InsecureSkipVerify: opts.InsecureSkipVerify,
	}
	utlsConn := utls.UClient(conn, tlsConfig, utlsProfile)

	if err := utlsConn.HandshakeContext(ctx); err != nil {
		utlsConn.Close()
		return nil, fmt.Errorf("TLS handshake failed: %w", err)
	}

	return utlsConn, nil
}
