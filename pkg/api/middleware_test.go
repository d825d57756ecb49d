package api

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"golang.org/x/time/rate"
)

func TestLimiterMap_ReturnsSameLimiterForSameKey(t *testing.T) {
	m := &limiterMap{limiters: make(map[string]*rate.Limiter)}
	every := rate.Every(time.Second)

	a := m.get("1.2.3.4", every, 10)
	b := m.get("1.2.3.4", every, 10)
	assert.Same(t, a, b)
}

func TestLimiterMap_DistinctKeysGetDistinctLimiters(t *testing.T) {
	m := &limiterMap{limiters: make(map[string]*rate.Limiter)}
	every := rate.Every(time.Second)

	a := m.get("1.2.3.4", every, 10)
	b := m.get("5.6.7.8", every, 10)
	assert.NotSame(t, a, b)
}

func TestLimiterMap_BurstExhaustsThenRefills(t *testing.T) {
	m := &limiterMap{limiters: make(map[string]*rate.Limiter)}
	every := rate.Every(10 * time.Millisecond)
	limiter := m.get("9.9.9.9", every, 2)

	assert.True(t, limiter.Allow())
	assert.True(t, limiter.Allow())
	assert.False(t, limiter.Allow(), "burst of 2 should be exhausted on the third immediate call")

	time.Sleep(15 * time.Millisecond)
	assert.True(t, limiter.Allow(), "limiter should refill after waiting longer than one token interval")
}
