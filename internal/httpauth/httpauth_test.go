package httpauth

import (
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"testing"
)

type recorder struct{ got *http.Request }

func (r *recorder) RoundTrip(req *http.Request) (*http.Response, error) {
	r.got = req
	return &http.Response{StatusCode: http.StatusOK, Body: http.NoBody, Request: req}, nil
}

func TestTransportInstallsBasicAuth(t *testing.T) {
	t.Parallel()
	creds := NewStatic()
	creds.Set("Repo.Example.com", 443, Credentials{Username: "admin", Password: "s3cret"})
	rec := &recorder{}
	tr := &Transport{Provider: creds, Base: rec}

	req, _ := http.NewRequest(http.MethodGet, "https://repo.example.com/api/ping", nil)
	if _, err := tr.RoundTrip(req); err != nil {
		t.Fatal(err)
	}
	user, pass, ok := rec.got.BasicAuth()
	if !ok || user != "admin" || pass != "s3cret" {
		t.Fatalf("BasicAuth = %q, %q, %v", user, pass, ok)
	}
	if req.Header.Get("Authorization") != "" {
		t.Fatal("caller's request was mutated")
	}
}

func TestTransportLeavesRequestAlone(t *testing.T) {
	t.Parallel()
	creds := NewStatic()
	creds.Set("repo.example.com", 8081, Credentials{Username: "u", Password: "p"})

	tests := []struct {
		name string
		url  string
		auth string
	}{
		{name: "other port", url: "http://repo.example.com/x"},
		{name: "other host", url: "http://other.example.com:8081/x"},
		{name: "already authenticated", url: "http://repo.example.com:8081/x", auth: "Bearer abc"},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			rec := &recorder{}
			tr := &Transport{Provider: creds, Base: rec}
			req, _ := http.NewRequest(http.MethodGet, tt.url, nil)
			if tt.auth != "" {
				req.Header.Set("Authorization", tt.auth)
			}
			if _, err := tr.RoundTrip(req); err != nil {
				t.Fatal(err)
			}
			if rec.got != req {
				t.Fatal("request was cloned although nothing was added")
			}
			if got := rec.got.Header.Get("Authorization"); got != tt.auth {
				t.Fatalf("Authorization = %q, want %q", got, tt.auth)
			}
		})
	}
}

func TestTargetDefaultsPortFromScheme(t *testing.T) {
	t.Parallel()
	tests := map[string]struct {
		host string
		port int
	}{
		"http://a.example/x":      {"a.example", 80},
		"https://a.example/x":     {"a.example", 443},
		"https://a.example:8443/": {"a.example", 8443},
		"http://[::1]:9000/":      {"::1", 9000},
	}
	for raw, want := range tests {
		u, _ := url.Parse(raw)
		host, port := Target(&http.Request{URL: u})
		if host != want.host || port != want.port {
			t.Errorf("Target(%s) = %s:%d, want %s:%d", raw, host, port, want.host, want.port)
		}
	}
}

func TestClientAgainstServer(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if u, p, ok := r.BasicAuth(); !ok || u != "bot" || p != "pw" {
			w.Header().Set("WWW-Authenticate", `Basic realm="test"`)
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	u, _ := url.Parse(srv.URL)
	port, _ := strconv.Atoi(u.Port())
	creds := NewStatic()
	creds.Replace(map[string]Credentials{"127.0.0.1:" + strconv.Itoa(port): {Username: "bot", Password: "pw"}})
	if creds.Len() != 1 {
		t.Fatalf("Len = %d, want 1", creds.Len())
	}

	resp, err := NewClient(ClientConfig{}, creds).Get(srv.URL)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("status = %d, want 204", resp.StatusCode)
	}
}
