// Package httpauth installs HTTP Basic credentials on outgoing requests
// before the server asks for them.
package httpauth

import (
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Credentials is a username/password pair for Basic auth.
type Credentials struct {
	Username string
	Password string
}

// CredentialsProvider looks up credentials for a host and port.
type CredentialsProvider interface {
	Credentials(host string, port int) (Credentials, bool)
}

// Static is a CredentialsProvider backed by a map keyed by "host:port".
// Host matching is case-insensitive.
type Static struct {
	mu    sync.RWMutex
	byKey map[string]Credentials
}

func NewStatic() *Static { return &Static{byKey: map[string]Credentials{}} }

func (s *Static) Set(host string, port int, c Credentials) {
	s.mu.Lock()
	s.byKey[key(host, port)] = c
	s.mu.Unlock()
}

// Replace swaps the whole table; used on config reload.
func (s *Static) Replace(m map[string]Credentials) {
	next := make(map[string]Credentials, len(m))
	for k, v := range m {
		host, portStr, err := net.SplitHostPort(k)
		if err != nil {
			continue
		}
		port, err := strconv.Atoi(portStr)
		if err != nil {
			continue
		}
		next[key(host, port)] = v
	}
	s.mu.Lock()
	s.byKey = next
	s.mu.Unlock()
}

func (s *Static) Credentials(host string, port int) (Credentials, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.byKey[key(host, port)]
	return c, ok
}

func (s *Static) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.byKey)
}

func key(host string, port int) string {
	return net.JoinHostPort(strings.ToLower(strings.TrimSpace(host)), strconv.Itoa(port))
}

// Transport adds Basic auth to requests that carry no Authorization header
// and whose target host:port has credentials. It keeps no state between
// requests and never mutates the caller's request.
type Transport struct {
	Provider CredentialsProvider
	// Base is the underlying transport; http.DefaultTransport when nil.
	Base http.RoundTripper
}

func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	base := t.Base
	if base == nil {
		base = http.DefaultTransport
	}
	if t.Provider == nil || req.URL == nil || req.Header.Get("Authorization") != "" {
		return base.RoundTrip(req)
	}
	host, port := Target(req)
	c, ok := t.Provider.Credentials(host, port)
	if !ok {
		return base.RoundTrip(req)
	}
	r := req.Clone(req.Context())
	r.SetBasicAuth(c.Username, c.Password)
	return base.RoundTrip(r)
}

// Target returns the host and port a request is sent to. A missing port is
// derived from the scheme.
func Target(req *http.Request) (string, int) {
	host := req.URL.Hostname()
	if p := req.URL.Port(); p != "" {
		if n, err := strconv.Atoi(p); err == nil {
			return host, n
		}
	}
	switch strings.ToLower(req.URL.Scheme) {
	case "https":
		return host, 443
	default:
		return host, 80
	}
}

type ClientConfig struct {
	Timeout           time.Duration
	DialTimeout       time.Duration
	MaxConnsPerHost   int
	DisableKeepAlives bool
}

// NewClient returns an http.Client whose transport applies preemptive auth
// from p on top of a tuned http.Transport.
func NewClient(cfg ClientConfig, p CredentialsProvider) *http.Client {
	dialTimeout := cfg.DialTimeout
	if dialTimeout <= 0 {
		dialTimeout = 10 * time.Second
	}
	perHost := cfg.MaxConnsPerHost
	if perHost <= 0 {
		perHost = 4
	}
	keepAlive := 30 * time.Second
	if cfg.DisableKeepAlives {
		// A negative KeepAlive means "disable" for net.Dialer.
		keepAlive = -1
	}
	d := &net.Dialer{Timeout: dialTimeout, KeepAlive: keepAlive}

	tr := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           d.DialContext,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		DisableKeepAlives:     cfg.DisableKeepAlives,
		ForceAttemptHTTP2:     true,
	}
	if !cfg.DisableKeepAlives {
		tr.MaxIdleConns = 64
		tr.MaxIdleConnsPerHost = perHost
		tr.IdleConnTimeout = 90 * time.Second
	}
	return &http.Client{Timeout: cfg.Timeout, Transport: &Transport{Provider: p, Base: tr}}
}
