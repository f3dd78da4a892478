package upstream

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"

	"github.com/jellydator/ttlcache/v3"

	"github.com/obsidianstack/deltacache/server/internal/config"
)

// maxBodySize caps how much of an origin response is read.
const maxBodySize = 4 << 20

// ErrStatus is wrapped when the origin answers with an unexpected status.
var ErrStatus = errors.New("upstream: unexpected status")

// Fetcher loads values from the origin. It is safe for concurrent use.
type Fetcher struct {
	base   string
	client *http.Client
	misses *ttlcache.Cache[string, struct{}] // nil when negative caching is off
}

// New builds a Fetcher for cfg. Call Close to stop the miss-cache janitor.
func New(cfg config.UpstreamConfig) (*Fetcher, error) {
	if !cfg.Enabled() {
		return nil, fmt.Errorf("upstream: url is required")
	}
	if _, err := url.Parse(cfg.URL); err != nil {
		return nil, fmt.Errorf("upstream: parse url: %w", err)
	}
	client, err := buildHTTPClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("upstream: build http client: %w", err)
	}

	f := &Fetcher{
		base:   strings.TrimRight(cfg.URL, "/"),
		client: client,
	}
	if cfg.MissTTL > 0 {
		f.misses = ttlcache.New[string, struct{}](
			ttlcache.WithTTL[string, struct{}](cfg.MissTTL),
			ttlcache.WithDisableTouchOnHit[string, struct{}](),
		)
		go f.misses.Start()
	}
	return f, nil
}

// Load fetches key. It reports false when the origin does not have it.
func (f *Fetcher) Load(ctx context.Context, key string) (json.RawMessage, bool, error) {
	if f.misses != nil && f.misses.Has(key) {
		return nil, false, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.base+"/"+url.PathEscape(key), nil)
	if err != nil {
		return nil, false, fmt.Errorf("upstream: build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, false, fmt.Errorf("upstream: http get: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound:
		if f.misses != nil {
			f.misses.Set(key, struct{}{}, ttlcache.DefaultTTL)
		}
		return nil, false, nil
	default:
		return nil, false, fmt.Errorf("%w: %d", ErrStatus, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return nil, false, fmt.Errorf("upstream: read body: %w", err)
	}
	if !json.Valid(body) {
		return nil, false, fmt.Errorf("upstream: %q: body is not valid JSON", key)
	}
	return json.RawMessage(body), true, nil
}

// Forget drops a remembered miss for key, typically because key was just
// written locally.
func (f *Fetcher) Forget(key string) {
	if f.misses != nil {
		f.misses.Delete(key)
	}
}

// Close stops the miss-cache janitor.
func (f *Fetcher) Close() {
	if f.misses != nil {
		f.misses.Stop()
	}
}

// authRoundTripper injects authentication headers into every outgoing request.
type authRoundTripper struct {
	base http.RoundTripper
	auth config.UpstreamAuth
}

func (t *authRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	switch t.auth.Mode {
	case "apikey":
		req = req.Clone(req.Context())
		req.Header.Set(t.auth.Header, t.auth.Key())
	case "bearer":
		req = req.Clone(req.Context())
		req.Header.Set("Authorization", "Bearer "+t.auth.Token())
	case "basic":
		req = req.Clone(req.Context())
		req.SetBasicAuth(t.auth.Username, t.auth.Password())
	}
	return t.base.RoundTrip(req)
}

// buildHTTPClient constructs an http.Client for the origin's auth and TLS settings.
func buildHTTPClient(cfg config.UpstreamConfig) (*http.Client, error) {
	tlsCfg := &tls.Config{
		InsecureSkipVerify: cfg.TLS.InsecureSkipVerify, //nolint:gosec // user-configured
	}

	if cfg.Auth.Mode == "mtls" {
		cert, err := tls.LoadX509KeyPair(cfg.Auth.CertFile, cfg.Auth.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("load client cert: %w", err)
		}
		tlsCfg.Certificates = []tls.Certificate{cert}

		if cfg.Auth.CAFile != "" {
			caPEM, err := os.ReadFile(cfg.Auth.CAFile)
			if err != nil {
				return nil, fmt.Errorf("read ca file: %w", err)
			}
			pool := x509.NewCertPool()
			if !pool.AppendCertsFromPEM(caPEM) {
				return nil, fmt.Errorf("no valid certs found in ca file %q", cfg.Auth.CAFile)
			}
			tlsCfg.RootCAs = pool
		}
	}

	return &http.Client{
		Transport: &authRoundTripper{
			base: &http.Transport{TLSClientConfig: tlsCfg},
			auth: cfg.Auth,
		},
		Timeout: cfg.Timeout,
	}, nil
}
