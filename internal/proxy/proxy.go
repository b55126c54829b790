// Package proxy parses worker proxy strings and checks them before the
// browser starts.
package proxy

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Endpoint is an HTTP proxy with optional basic credentials.
type Endpoint struct {
	Host     string
	Port     int
	Username string
	Password string
}

// Parse accepts "user:pass@host:port" or "host:port", optionally prefixed
// with http://.
func Parse(raw string) (Endpoint, error) {
	s := strings.TrimSpace(raw)
	s = strings.TrimPrefix(s, "http://")
	if s == "" {
		return Endpoint{}, fmt.Errorf("proxy is empty")
	}

	var ep Endpoint
	if at := strings.LastIndex(s, "@"); at >= 0 {
		creds := s[:at]
		s = s[at+1:]
		user, pass, ok := strings.Cut(creds, ":")
		if !ok || user == "" {
			return Endpoint{}, fmt.Errorf("proxy credentials must be user:pass")
		}
		ep.Username = user
		ep.Password = pass
	}

	host, portText, err := net.SplitHostPort(s)
	if err != nil {
		return Endpoint{}, fmt.Errorf("parse proxy address %q: %w", s, err)
	}
	if host == "" {
		return Endpoint{}, fmt.Errorf("proxy host is empty")
	}
	port, err := strconv.Atoi(portText)
	if err != nil || port <= 0 || port > 65535 {
		return Endpoint{}, fmt.Errorf("invalid proxy port %q", portText)
	}
	ep.Host = host
	ep.Port = port
	return ep, nil
}

// Address returns host:port.
func (e Endpoint) Address() string {
	return net.JoinHostPort(e.Host, strconv.Itoa(e.Port))
}

// ServerURL returns the value for Chrome's --proxy-server flag.
func (e Endpoint) ServerURL() string {
	return "http://" + e.Address()
}

// HasAuth reports whether the proxy needs credentials.
func (e Endpoint) HasAuth() bool {
	return e.Username != ""
}

// URL returns the proxy URL including credentials for HTTP clients.
func (e Endpoint) URL() *url.URL {
	u := &url.URL{Scheme: "http", Host: e.Address()}
	if e.HasAuth() {
		u.User = url.UserPassword(e.Username, e.Password)
	}
	return u
}

// String masks the password.
func (e Endpoint) String() string {
	if !e.HasAuth() {
		return e.Address()
	}
	return e.Username + ":***@" + e.Address()
}

// Check fetches echoURL through the proxy and returns the response body,
// which for an IP echo service is the egress address.
func Check(ctx context.Context, ep Endpoint, echoURL string, timeout time.Duration) (string, error) {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	client := &http.Client{
		Timeout:   timeout,
		Transport: &http.Transport{Proxy: http.ProxyURL(ep.URL())},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, echoURL, nil)
	if err != nil {
		return "", fmt.Errorf("build proxy check request: %w", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return "", fmt.Errorf("proxy check via %s: %w", ep, err)
	}
	defer resp.Body.Close() //nolint:errcheck // read-only body
	body, err := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if err != nil {
		return "", fmt.Errorf("read proxy check response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("proxy check via %s: status %d", ep, resp.StatusCode)
	}
	return strings.TrimSpace(string(body)), nil
}
