package transport

import (
	"context"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"votewatch/internal/config"
)

// Policy governs per-endpoint retries, independent of the primary/fallback
// choice, so both concerns can be tested in isolation.
type Policy struct {
	MaxAttempts     int
	InitialBackoff  time.Duration
	RetryableStatus map[int]bool
}

// DefaultPolicy mirrors the upstream session defaults: five attempts,
// backoff doubling from one second, retrying transient statuses.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts:    5,
		InitialBackoff: time.Second,
		RetryableStatus: map[int]bool{
			http.StatusTooManyRequests:     true,
			http.StatusInternalServerError: true,
			http.StatusBadGateway:          true,
			http.StatusServiceUnavailable:  true,
			http.StatusGatewayTimeout:      true,
		},
	}
}

func (p Policy) retryable(status int) bool {
	return p.RetryableStatus[status]
}

// FetchError means both the primary and fallback endpoints were exhausted.
type FetchError struct {
	Primary  error
	Fallback error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch failed: primary: %v; fallback: %v", e.Primary, e.Fallback)
}

// Fetcher retrieves the raw standings payload. It keeps no state between
// calls beyond the shared HTTP client.
type Fetcher struct {
	client     *http.Client
	primary    string
	fallback   string
	dumpPath   string
	policy     Policy
	headers    map[string]string
	onFallback func()
}

// OnFallback registers a hook invoked whenever a cycle is served by the
// fallback endpoint. Used for metrics.
func (f *Fetcher) OnFallback(fn func()) { f.onFallback = fn }

// New builds a Fetcher from config, appending the award identifier to both
// endpoints as a query parameter.
func New(cfg config.Config, policy Policy) *Fetcher {
	if policy.MaxAttempts < 1 {
		policy.MaxAttempts = 1
	}
	return &Fetcher{
		client:   &http.Client{Timeout: cfg.HTTPTimeout},
		primary:  withAward(cfg.PrimaryURL, cfg.AwardID),
		fallback: withAward(cfg.FallbackURL, cfg.AwardID),
		dumpPath: cfg.DumpPath,
		policy:   policy,
		headers: map[string]string{
			"accept":     "application/json, text/plain, */*",
			"user-agent": cfg.UserAgent,
			"referer":    cfg.Referer,
			"origin":     cfg.Origin,
		},
	}
}

func withAward(endpoint, awardID string) string {
	if awardID == "" || strings.Contains(endpoint, "awardId=") {
		return endpoint
	}
	sep := "?"
	if strings.Contains(endpoint, "?") {
		sep = "&"
	}
	return endpoint + sep + "awardId=" + url.QueryEscape(awardID)
}

// Fetch retrieves the raw response body, trying the primary endpoint with
// bounded retries, then the fallback. The body is dumped to the debug
// artifact before returning so parser failures stay diagnosable.
func (f *Fetcher) Fetch(ctx context.Context) (string, error) {
	body, primaryErr := f.getWithRetries(ctx, f.primary)
	if primaryErr == nil {
		f.dump(body)
		return body, nil
	}
	log.Printf("fetch: primary exhausted (%v), trying fallback", primaryErr)

	body, fallbackErr := f.getWithRetries(ctx, f.fallback)
	if fallbackErr == nil {
		if f.onFallback != nil {
			f.onFallback()
		}
		f.dump(body)
		return body, nil
	}
	return "", &FetchError{Primary: primaryErr, Fallback: fallbackErr}
}

func (f *Fetcher) getWithRetries(ctx context.Context, endpoint string) (string, error) {
	backoff := f.policy.InitialBackoff
	var lastErr error
	for attempt := 1; attempt <= f.policy.MaxAttempts; attempt++ {
		body, retry, err := f.getOnce(ctx, endpoint)
		if err == nil {
			return body, nil
		}
		lastErr = err
		if !retry || attempt == f.policy.MaxAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
	}
	return "", lastErr
}

// getOnce performs a single GET. The second return value reports whether
// the failure is transient.
func (f *Fetcher) getOnce(ctx context.Context, endpoint string) (string, bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return "", false, err
	}
	for k, v := range f.headers {
		req.Header.Set(k, v)
	}
	resp, err := f.client.Do(req)
	if err != nil {
		// Connection-level errors are transient.
		return "", true, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusForbidden {
		// 403 tends to mean edge-network blocking rather than a service
		// fault; call it out so operators can tell the cases apart.
		log.Printf("fetch: %s returned 403, likely blocked at the edge", hostOf(endpoint))
		return "", false, fmt.Errorf("status 403 (blocked)")
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", f.policy.retryable(resp.StatusCode), fmt.Errorf("status %d", resp.StatusCode)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", true, fmt.Errorf("read body: %w", err)
	}
	body := string(data)
	if strings.TrimSpace(body) == "" {
		return "", false, fmt.Errorf("empty body")
	}
	return body, false, nil
}

func (f *Fetcher) dump(body string) {
	if f.dumpPath == "" {
		return
	}
	if err := os.MkdirAll(filepath.Dir(f.dumpPath), 0o755); err != nil {
		log.Printf("fetch: dump dir: %v", err)
		return
	}
	if err := os.WriteFile(f.dumpPath, []byte(body), 0o644); err != nil {
		log.Printf("fetch: dump write: %v", err)
	}
}

func hostOf(endpoint string) string {
	u, err := url.Parse(endpoint)
	if err != nil {
		return endpoint
	}
	return u.Host
}
