package netclient_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eprints2archives/eprints2archives/internal/errs"
	"github.com/eprints2archives/eprints2archives/internal/netclient"
)

func TestRequestHappyPath(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("hello"))
	}))
	defer srv.Close()

	c := netclient.New()
	resp, err := c.Request(context.Background(), nil, "GET", srv.URL, netclient.Options{})
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "hello", resp.Text())
}

func TestRequestNoContentOutsidePollingMode(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	c := netclient.New()
	_, err := c.Request(context.Background(), nil, "GET", srv.URL, netclient.Options{SingleAttempt: true})
	var nc *errs.NoContent
	assert.ErrorAs(t, err, &nc)
}

func TestRequestPollingModeReturns404AsNormalResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	c := netclient.New()
	resp, err := c.Request(context.Background(), nil, "GET", srv.URL, netclient.Options{PollingMode: true, SingleAttempt: true})
	require.NoError(t, err)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestRequestAuthenticationFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	c := netclient.New()
	_, err := c.Request(context.Background(), nil, "GET", srv.URL, netclient.Options{SingleAttempt: true})
	var auth *errs.AuthenticationFailure
	assert.ErrorAs(t, err, &auth)
}

func TestRequestRateLimitSurfacedImmediatelyWhenHandlingDisabled(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	c := netclient.New()
	disabled := false
	_, err := c.Request(context.Background(), nil, "GET", srv.URL, netclient.Options{HandleRateLimit: &disabled})
	var rl *errs.RateLimitExceeded
	assert.ErrorAs(t, err, &rl)
}

func TestRequestServiceFailureOn503(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := netclient.New()
	_, err := c.Request(context.Background(), nil, "GET", srv.URL, netclient.Options{SingleAttempt: true})
	var sf *errs.ServiceFailure
	assert.ErrorAs(t, err, &sf)
}

func TestRequestFollowsRedirects(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/start", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/end", http.StatusFound)
	})
	mux.HandleFunc("/end", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("final"))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	c := netclient.New()
	resp, err := c.Request(context.Background(), nil, "GET", srv.URL+"/start", netclient.Options{})
	require.NoError(t, err)
	assert.Equal(t, "final", resp.Text())
}

func TestRequestBadURLIsPermanentNoRetry(t *testing.T) {
	c := netclient.New()
	_, err := c.Request(context.Background(), nil, "GET", "://not-a-url", netclient.Options{})
	var bad *errs.BadURL
	assert.ErrorAs(t, err, &bad)
}

func TestNetworkAvailableAddr(t *testing.T) {
	assert.False(t, netclient.NetworkAvailableAddr("203.0.113.1:1", 50*time.Millisecond))
}

func TestWithLatencyHistogramRecordsValues(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := netclient.New().WithLatencyHistogram()
	_, err := c.Request(context.Background(), nil, "GET", srv.URL, netclient.Options{})
	require.NoError(t, err)
	require.NotNil(t, c.Histogram())
	assert.GreaterOrEqual(t, c.Histogram().Max(), int64(0))
}
