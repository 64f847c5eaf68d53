package transport

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/raulk/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GroupLang/agent-market-client/internal/utils"
)

type fakeTokens struct {
	mu         sync.Mutex
	token      string
	next       string
	refreshErr error
	refreshes  int
	stale      []string
	expired    error
}

func (f *fakeTokens) AccessToken() (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.token == "" {
		return "", utils.ErrUnauthenticated
	}
	return f.token, nil
}

func (f *fakeTokens) Refresh(ctx context.Context, stale string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stale = append(f.stale, stale)
	if f.token != "" && f.token != stale {
		return nil
	}
	f.refreshes++
	if f.refreshErr != nil {
		f.token = ""
		return f.refreshErr
	}
	f.token = f.next
	return nil
}

func (f *fakeTokens) Expire(cause error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.expired = cause
	f.token = ""
}

func fastPolicy() RetryPolicy {
	p := DefaultRetryPolicy()
	p.BaseDelay = time.Millisecond
	p.MaxDelay = 4 * time.Millisecond
	return p
}

func newTestClient(t *testing.T, srv *httptest.Server, tokens TokenSource, opts ...Option) *Client {
	t.Helper()
	all := append([]Option{WithTokens(tokens), WithPolicy(fastPolicy())}, opts...)
	c, err := NewClient(srv.URL+"/v1", all...)
	require.NoError(t, err)
	return c
}

func TestRetriesTransientFailuresWithSameIdempotencyKey(t *testing.T) {
	var hits int32
	var mu sync.Mutex
	var keys []string

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		keys = append(keys, r.Header.Get("Idempotency-Key"))
		mu.Unlock()
		if atomic.AddInt32(&hits, 1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		assert.Equal(t, "/v1/instances", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"inst-1"}`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv, &fakeTokens{token: "tok"})

	var out struct {
		ID string `json:"id"`
	}
	require.NoError(t, c.Post(context.Background(), "/instances", map[string]any{"max_credit_per_instance": 10}, &out))
	assert.Equal(t, "inst-1", out.ID)
	assert.Equal(t, int32(3), atomic.LoadInt32(&hits))

	require.Len(t, keys, 3)
	assert.NotEmpty(t, keys[0])
	assert.Equal(t, keys[0], keys[1])
	assert.Equal(t, keys[0], keys[2])
}

func TestGivesUpAfterMaxAttempts(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	c := newTestClient(t, srv, &fakeTokens{token: "tok"})
	err := c.Get(context.Background(), "/instances", nil)

	require.ErrorIs(t, err, utils.ErrTransient)
	var exhausted *ExhaustedError
	require.ErrorAs(t, err, &exhausted)
	assert.Equal(t, 3, exhausted.Attempts)
	assert.Equal(t, int32(3), atomic.LoadInt32(&hits))
}

func TestDomainErrorsAreNotRetried(t *testing.T) {
	cases := []struct {
		status   int
		sentinel error
	}{
		{http.StatusBadRequest, utils.ErrBadRequest},
		{http.StatusForbidden, utils.ErrForbidden},
		{http.StatusNotFound, utils.ErrNotFound},
		{http.StatusConflict, utils.ErrConflict},
	}
	for _, tc := range cases {
		t.Run(http.StatusText(tc.status), func(t *testing.T) {
			var hits int32
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				atomic.AddInt32(&hits, 1)
				w.WriteHeader(tc.status)
				_, _ = w.Write([]byte(`{"detail":"reward must be <= max credit"}`))
			}))
			defer srv.Close()

			c := newTestClient(t, srv, &fakeTokens{token: "tok"})
			err := c.Put(context.Background(), "/instances/x/report-reward", map[string]any{"gen_reward": 1}, nil)

			require.ErrorIs(t, err, tc.sentinel)
			assert.NotErrorIs(t, err, utils.ErrTransient)
			assert.Contains(t, err.Error(), "reward must be <= max credit")
			assert.Equal(t, int32(1), atomic.LoadInt32(&hits))
		})
	}
}

func TestRefreshesOnceOn401AndReplays(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		if r.Header.Get("Authorization") != "Bearer fresh" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_, _ = w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	tokens := &fakeTokens{token: "stale", next: "fresh"}
	c := newTestClient(t, srv, tokens)

	require.NoError(t, c.Get(context.Background(), "/auth/users/me", &map[string]any{}))
	assert.Equal(t, 1, tokens.refreshes)
	assert.Equal(t, []string{"stale"}, tokens.stale)
	assert.Equal(t, int32(2), atomic.LoadInt32(&hits))
}

func TestConcurrent401sShareOneRefresh(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer fresh" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_, _ = w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	tokens := &fakeTokens{token: "stale", next: "fresh"}
	c := newTestClient(t, srv, tokens)

	var wg sync.WaitGroup
	errs := make(chan error, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- c.Get(context.Background(), "/instances", &map[string]any{})
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}
	assert.Equal(t, 1, tokens.refreshes)
	assert.Nil(t, tokens.expired)
}

func TestSecond401ExpiresSession(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	tokens := &fakeTokens{token: "stale", next: "still-bad"}
	c := newTestClient(t, srv, tokens)

	err := c.Get(context.Background(), "/instances", nil)
	require.ErrorIs(t, err, utils.ErrSessionExpired)
	assert.Equal(t, 1, tokens.refreshes)
	assert.Equal(t, int32(2), atomic.LoadInt32(&hits))
	assert.Error(t, tokens.expired)

	err = c.Get(context.Background(), "/instances", nil)
	require.ErrorIs(t, err, utils.ErrUnauthenticated)
	assert.Equal(t, int32(2), atomic.LoadInt32(&hits))
}

func TestRefreshFailureFailsClosed(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	tokens := &fakeTokens{token: "stale", refreshErr: errors.New("refresh rejected")}
	c := newTestClient(t, srv, tokens)

	err := c.Get(context.Background(), "/instances", nil)
	require.ErrorIs(t, err, utils.ErrSessionExpired)
	assert.Equal(t, int32(1), atomic.LoadInt32(&hits))
}

func TestUnauthenticatedCallNeverHitsNetwork(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
	}))
	defer srv.Close()

	c := newTestClient(t, srv, &fakeTokens{})
	err := c.Get(context.Background(), "/instances", nil)
	require.ErrorIs(t, err, utils.ErrUnauthenticated)
	assert.Equal(t, int32(0), atomic.LoadInt32(&hits))
}

func TestBackoffIsInterruptible(t *testing.T) {
	hit := make(chan struct{}, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case hit <- struct{}{}:
		default:
		}
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	p := DefaultRetryPolicy()
	p.BaseDelay = time.Hour
	p.MaxDelay = time.Hour
	c := newTestClient(t, srv, &fakeTokens{token: "tok"}, WithPolicy(p), WithClock(clock.NewMock()))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Get(ctx, "/instances", nil) }()

	<-hit
	cancel()

	select {
	case err := <-done:
		require.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("retry loop ignored cancellation")
	}
}

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(r *http.Request) (*http.Response, error) { return f(r) }

func TestNetworkErrorsAreRetried(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`[]`))
	}))
	defer srv.Close()

	var calls int32
	hc := &http.Client{Transport: roundTripFunc(func(r *http.Request) (*http.Response, error) {
		if atomic.AddInt32(&calls, 1) == 1 {
			return nil, errors.New("connection reset by peer")
		}
		return http.DefaultTransport.RoundTrip(r)
	})}

	c := newTestClient(t, srv, &fakeTokens{token: "tok"}, WithHTTPClient(hc))
	var out []any
	require.NoError(t, c.Get(context.Background(), "/instances", &out))
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func TestFormBodyWithoutAuth(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Empty(t, r.Header.Get("Authorization"))
		assert.Equal(t, "application/x-www-form-urlencoded", r.Header.Get("Content-Type"))
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "ada@example.com", r.PostForm.Get("username"))
		_, _ = w.Write([]byte(`{"access_token":"abc","token_type":"bearer"}`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv, &fakeTokens{token: "tok"}, WithPolicy(SingleAttempt()))
	var out struct {
		AccessToken string `json:"access_token"`
	}
	form := url.Values{"username": {"ada@example.com"}, "password": {"pw"}}
	require.NoError(t, c.Post(context.Background(), "/auth/login", form, &out, WithoutAuth()))
	assert.Equal(t, "abc", out.AccessToken)
}
