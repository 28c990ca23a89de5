package robusthttp

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRetriesServerErrors(t *testing.T) {
	assert := assert.New(t)

	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	client := NewClient(WithRetryWait(time.Millisecond, 5*time.Millisecond))
	resp, err := client.Get(srv.URL)
	if assert.NoError(err) {
		resp.Body.Close()
		assert.Equal(http.StatusNoContent, resp.StatusCode)
	}
	assert.Equal(int32(3), hits.Load())
}

func TestNoRetryOnConflict(t *testing.T) {
	assert := assert.New(t)

	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusConflict)
	}))
	defer srv.Close()

	client := NewClient(WithRetryWait(time.Millisecond, 5*time.Millisecond))
	resp, err := client.Get(srv.URL)
	if assert.NoError(err) {
		resp.Body.Close()
		assert.Equal(http.StatusConflict, resp.StatusCode)
	}
	assert.Equal(int32(1), hits.Load())
}

func TestRetryPolicyCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	retry, err := DefaultRetryPolicy(ctx, nil, context.Canceled)
	assert.False(t, retry)
	assert.ErrorIs(t, err, context.Canceled)
}
