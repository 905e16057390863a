package middleware_test

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/boardpin/boardpin/internal/server/middleware"
)

func TestRateLimitByIP(t *testing.T) {
	t.Parallel()

	handler := middleware.RateLimitByIP(1, 2)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	do := func(addr string) int {
		req := httptest.NewRequest(http.MethodGet, "/status", nil)
		req.RemoteAddr = addr
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		return rec.Code
	}

	// Burst of 2, then the third immediate request is rejected.
	require.Equal(t, http.StatusOK, do("127.0.0.1:1111"))
	require.Equal(t, http.StatusOK, do("127.0.0.1:1111"))
	assert.Equal(t, http.StatusTooManyRequests, do("127.0.0.1:1111"))

	// Separate peers keep separate budgets.
	assert.Equal(t, http.StatusOK, do("127.0.0.1:2222"))
}
