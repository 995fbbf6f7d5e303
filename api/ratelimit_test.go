package api_test

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"golang.org/x/time/rate"

	"github.com/warp/leave-engine/api"
)

func TestActorLimiter_Allow(t *testing.T) {
	l := api.NewActorLimiter(rate.Limit(1), 2)

	assert.True(t, l.Allow("alice"))
	assert.True(t, l.Allow("alice"))
	assert.False(t, l.Allow("alice"))
	assert.True(t, l.Allow("bob"), "buckets are per actor")
}

func TestAPI_RateLimitedActor(t *testing.T) {
	// GIVEN: A limit of two requests per actor burst
	// WHEN: alice sends three requests at once
	// THEN: The third is 429 and bob is unaffected

	s := newTestServer(t)
	handler := api.NewHandler(s.workflow, newDirectory(t, s.store), nil, nil)
	handler.Limiter = api.NewActorLimiter(rate.Limit(0.01), 2)
	s.router = api.NewRouter(handler, nil)

	assert.Equal(t, http.StatusOK, s.do(t, http.MethodGet, "/api/balances/alice", "alice", nil).Code)
	assert.Equal(t, http.StatusOK, s.do(t, http.MethodGet, "/api/balances/alice", "alice", nil).Code)
	assert.Equal(t, http.StatusTooManyRequests, s.do(t, http.MethodGet, "/api/balances/alice", "alice", nil).Code)
	assert.Equal(t, http.StatusOK, s.do(t, http.MethodGet, "/api/balances/bob", "bob", nil).Code)

	// Unauthenticated calls never reach the limiter.
	assert.Equal(t, http.StatusUnauthorized, s.do(t, http.MethodGet, "/api/balances/alice", "", nil).Code)
	assert.Equal(t, http.StatusOK, s.do(t, http.MethodGet, "/healthz", "", nil).Code)
}
