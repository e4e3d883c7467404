package venue

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recordingLimiter captures the limit/window each Wait call carries.
type recordingLimiter struct {
	mu    sync.Mutex
	waits []struct {
		key    string
		limit  int
		window time.Duration
	}
}

func (l *recordingLimiter) Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error) {
	return true, nil
}

func (l *recordingLimiter) Wait(ctx context.Context, key string, limit int, window time.Duration) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.waits = append(l.waits, struct {
		key    string
		limit  int
		window time.Duration
	}{key, limit, window})
	return nil
}

func newAPIServer(t *testing.T, data string) *httptest.Server {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"success":true,"message":"","data":` + data + `}`))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestRestClientGatesWithConfiguredLimit(t *testing.T) {
	srv := newAPIServer(t, `"0xProfile1"`)

	limiter := &recordingLimiter{}
	c := NewRestClient(RestConfig{
		BaseURL:    srv.URL,
		RateLimit:  25,
		RateWindow: 5 * time.Second,
	}, limiter)

	profile, err := c.GetProfileAddress(context.Background(), "0xT1")
	require.NoError(t, err)
	assert.Equal(t, "0xProfile1", profile)

	limiter.mu.Lock()
	defer limiter.mu.Unlock()
	require.Len(t, limiter.waits, 1)
	assert.Equal(t, "venue_rest", limiter.waits[0].key)
	assert.Equal(t, 25, limiter.waits[0].limit)
	assert.Equal(t, 5*time.Second, limiter.waits[0].window)
}

func TestRestClientDefaultsRateLimit(t *testing.T) {
	srv := newAPIServer(t, `"0xProfile1"`)

	limiter := &recordingLimiter{}
	c := NewRestClient(RestConfig{BaseURL: srv.URL}, limiter)

	_, err := c.GetProfileAddress(context.Background(), "0xT1")
	require.NoError(t, err)

	limiter.mu.Lock()
	defer limiter.mu.Unlock()
	require.Len(t, limiter.waits, 1)
	assert.Equal(t, 10, limiter.waits[0].limit)
	assert.Equal(t, time.Second, limiter.waits[0].window)
}

func TestRestClientSkipsGateWithoutLimiter(t *testing.T) {
	srv := newAPIServer(t, `"0xProfile1"`)

	c := NewRestClient(RestConfig{BaseURL: srv.URL}, nil)

	profile, err := c.GetProfileAddress(context.Background(), "0xT1")
	require.NoError(t, err)
	assert.Equal(t, "0xProfile1", profile)
}
