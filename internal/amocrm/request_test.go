package amocrm

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"
)

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(r *http.Request) (*http.Response, error) { return f(r) }

// waitRecorder replaces real sleeps and remembers the requested durations.
type waitRecorder struct {
	mu    sync.Mutex
	waits []time.Duration
}

func (w *waitRecorder) wait(ctx context.Context, d time.Duration) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.waits = append(w.waits, d)
	return ctx.Err()
}

func (w *waitRecorder) all() []time.Duration {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]time.Duration(nil), w.waits...)
}

func testConfig(apiURL string) Config {
	cfg := DefaultConfig()
	cfg.APIURL = apiURL
	cfg.Credentials = Credentials{Subdomain: "example", AccessToken: "token-1"}
	return cfg
}

func newTestClient(t *testing.T, cfg Config) (*Client, *waitRecorder) {
	t.Helper()

	c, err := newClient(cfg, zap.NewNop(), nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	w := &waitRecorder{}
	c.wait = w.wait

	return c, w
}

func okResponse(body string) *http.Response {
	return &http.Response{
		StatusCode: http.StatusOK,
		Header:     make(http.Header),
		Body:       io.NopCloser(strings.NewReader(body)),
	}
}

func equalWaits(got, want []time.Duration) bool {
	if len(got) != len(want) {
		return false
	}
	for i := range got {
		if got[i] != want[i] {
			return false
		}
	}
	return true
}

func TestNewRejectsMissingCredentials(t *testing.T) {
	tests := []Credentials{
		{},
		{Subdomain: "example"},
		{AccessToken: "token"},
		{Subdomain: "example", AccessToken: "token", RedirectURI: "not a url"},
	}

	for _, creds := range tests {
		cfg := DefaultConfig()
		cfg.Credentials = creds
		if _, err := New(context.Background(), cfg, zap.NewNop(), nil); !errors.Is(err, ErrInvalidCredentials) {
			t.Fatalf("expected ErrInvalidCredentials for %+v, got %v", creds, err)
		}
	}
}

func TestRequestRetriesNetworkErrors(t *testing.T) {
	c, w := newTestClient(t, testConfig("http://crm.test"))

	calls := 0
	c.HTTPClient.Transport = roundTripFunc(func(r *http.Request) (*http.Response, error) {
		calls++
		if calls < 3 {
			return nil, errors.New("connection reset")
		}
		return okResponse(`{}`), nil
	})

	resp, err := c.request(context.Background(), http.MethodGet, "/api/v4/account", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	if want := []time.Duration{5 * time.Second, 10 * time.Second}; !equalWaits(w.all(), want) {
		t.Fatalf("expected waits %v, got %v", want, w.all())
	}
}

func TestRequestFailsAfterMaxAttempts(t *testing.T) {
	c, w := newTestClient(t, testConfig("http://crm.test"))

	calls := 0
	c.HTTPClient.Transport = roundTripFunc(func(r *http.Request) (*http.Response, error) {
		calls++
		return nil, errors.New("no route to host")
	})

	_, err := c.request(context.Background(), http.MethodGet, "/api/v4/account", nil)
	if !errors.Is(err, ErrRequestFailed) {
		t.Fatalf("expected ErrRequestFailed, got %v", err)
	}
	if calls != 3 {
		t.Fatalf("expected 3 attempts, got %d", calls)
	}
	if want := []time.Duration{5 * time.Second, 10 * time.Second}; !equalWaits(w.all(), want) {
		t.Fatalf("expected waits %v, got %v", want, w.all())
	}
}

func TestRequestResendsBodyOnRetry(t *testing.T) {
	c, _ := newTestClient(t, testConfig("http://crm.test"))

	var bodies []string
	c.HTTPClient.Transport = roundTripFunc(func(r *http.Request) (*http.Response, error) {
		data, _ := io.ReadAll(r.Body)
		bodies = append(bodies, string(data))
		if len(bodies) == 1 {
			return nil, errors.New("timeout")
		}
		return okResponse(`{}`), nil
	})

	if _, err := c.request(context.Background(), http.MethodPost, "/api/v4/leads", []string{"a"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(bodies) != 2 || bodies[0] != `["a"]` || bodies[1] != `["a"]` {
		t.Fatalf("expected identical bodies on both attempts, got %q", bodies)
	}
}

func TestRequestUnauthorizedIsRetriedOnce(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	c, w := newTestClient(t, testConfig(srv.URL))

	resp, err := c.request(context.Background(), http.MethodGet, "/api/v4/account", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected the second 401 to be returned, got %d", resp.StatusCode)
	}
	if calls != 2 {
		t.Fatalf("expected 2 calls, got %d", calls)
	}
	if len(w.all()) != 0 {
		t.Fatalf("expected no waits, got %v", w.all())
	}
}

func TestRequestRefreshesToken(t *testing.T) {
	var authHeaders []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == apiTokenPath {
			body, _ := io.ReadAll(r.Body)
			if !strings.Contains(string(body), `"grant_type":"refresh_token"`) {
				t.Errorf("unexpected token request %s", body)
			}
			_, _ = io.WriteString(w, `{"access_token":"token-2","refresh_token":"refresh-2","expires_in":86400}`)
			return
		}

		authHeaders = append(authHeaders, r.Header.Get("Authorization"))
		if r.Header.Get("Authorization") != "Bearer token-2" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_, _ = io.WriteString(w, `{}`)
	}))
	defer srv.Close()

	cfg := testConfig(srv.URL)
	cfg.Credentials.RefreshToken = "refresh-1"
	cfg.Credentials.ClientID = "client"
	cfg.Credentials.ClientSecret = "secret"
	cfg.CredentialsFile = t.TempDir() + "/credentials.json"

	c, _ := newTestClient(t, cfg)

	resp, err := c.request(context.Background(), http.MethodGet, "/api/v4/account", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 after refresh, got %d", resp.StatusCode)
	}

	want := []string{"Bearer token-1", "Bearer token-2"}
	if strings.Join(authHeaders, ",") != strings.Join(want, ",") {
		t.Fatalf("expected auth headers %v, got %v", want, authHeaders)
	}

	saved, err := LoadCredentials(cfg.CredentialsFile)
	if err != nil {
		t.Fatalf("loading saved credentials: %v", err)
	}
	if saved.AccessToken != "token-2" || saved.RefreshToken != "refresh-2" {
		t.Fatalf("expected rotated tokens to be saved, got %+v", saved)
	}
}

func TestRequestWaitsOnRateLimit(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		switch calls {
		case 1:
			w.Header().Set("Retry-After", "2")
			w.WriteHeader(http.StatusTooManyRequests)
		case 2:
			w.WriteHeader(http.StatusTooManyRequests)
		default:
			_, _ = io.WriteString(w, `{}`)
		}
	}))
	defer srv.Close()

	c, w := newTestClient(t, testConfig(srv.URL))

	resp, err := c.request(context.Background(), http.MethodGet, "/api/v4/account", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if want := []time.Duration{2 * time.Second, 5 * time.Second}; !equalWaits(w.all(), want) {
		t.Fatalf("expected waits %v, got %v", want, w.all())
	}
}

func TestRequestRateLimitIsBounded(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.Header().Set("Retry-After", "1")
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	cfg := testConfig(srv.URL)
	cfg.RateLimit.MaxRetries = 3

	c, w := newTestClient(t, cfg)

	_, err := c.request(context.Background(), http.MethodGet, "/api/v4/account", nil)
	if !errors.Is(err, ErrRateLimited) {
		t.Fatalf("expected ErrRateLimited, got %v", err)
	}
	if calls != 4 || len(w.all()) != 3 {
		t.Fatalf("expected 4 calls and 3 waits, got %d calls and %v", calls, w.all())
	}

	cfg = testConfig(srv.URL)
	cfg.RateLimit.MaxTotalWait = 1500 * time.Millisecond
	c, w = newTestClient(t, cfg)

	if _, err := c.request(context.Background(), http.MethodGet, "/api/v4/account", nil); !errors.Is(err, ErrRateLimited) {
		t.Fatalf("expected ErrRateLimited by total wait, got %v", err)
	}
	if len(w.all()) != 1 {
		t.Fatalf("expected a single wait before the budget ran out, got %v", w.all())
	}
}

func TestRequestOtherStatusesReturned(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = io.WriteString(w, `{"title":"Bad Request"}`)
	}))
	defer srv.Close()

	c, w := newTestClient(t, testConfig(srv.URL))

	resp, err := c.request(context.Background(), http.MethodPost, "/api/v4/contacts", []int{1})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.StatusCode != http.StatusBadRequest || !strings.Contains(string(resp.Body), "Bad Request") {
		t.Fatalf("unexpected response %s", resp)
	}
	if len(w.all()) != 0 {
		t.Fatalf("expected no waits, got %v", w.all())
	}
}

func TestRequestCircuitOpens(t *testing.T) {
	cfg := testConfig("http://crm.test")
	cfg.Breaker.MaxFailures = 1

	c, _ := newTestClient(t, cfg)

	calls := 0
	c.HTTPClient.Transport = roundTripFunc(func(r *http.Request) (*http.Response, error) {
		calls++
		return nil, errors.New("connection refused")
	})

	_, err := c.request(context.Background(), http.MethodGet, "/api/v4/account", nil)
	if !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("expected ErrCircuitOpen, got %v", err)
	}
	if calls != 1 {
		t.Fatalf("expected the open breaker to stop further attempts, got %d calls", calls)
	}

	if _, err := c.request(context.Background(), http.MethodGet, "/api/v4/account", nil); !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("expected fail-fast while open, got %v", err)
	}
	if calls != 1 {
		t.Fatalf("expected no network call while open, got %d", calls)
	}
}

func TestRequestStopsOnCancelledContext(t *testing.T) {
	c, _ := newTestClient(t, testConfig("http://crm.test"))

	ctx, cancel := context.WithCancel(context.Background())
	c.HTTPClient.Transport = roundTripFunc(func(r *http.Request) (*http.Response, error) {
		cancel()
		return nil, errors.New("interrupted")
	})

	if _, err := c.request(ctx, http.MethodGet, "/api/v4/account", nil); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestRetryAfter(t *testing.T) {
	h := make(http.Header)
	if got := retryAfter(h, 5*time.Second); got != 5*time.Second {
		t.Fatalf("expected fallback, got %v", got)
	}

	h.Set("Retry-After", " 7 ")
	if got := retryAfter(h, 5*time.Second); got != 7*time.Second {
		t.Fatalf("expected 7s, got %v", got)
	}

	h.Set("Retry-After", "Wed, 21 Oct 2015 07:28:00 GMT")
	if got := retryAfter(h, 5*time.Second); got != 5*time.Second {
		t.Fatalf("expected fallback for http dates, got %v", got)
	}
}
