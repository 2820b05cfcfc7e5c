package gateway

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
)

func TestRateLimitBucketNormalThreshold(t *testing.T) {
	b := NewRateLimitBucket(zerolog.Nop())

	allowed := 0
	for i := 0; i < 130; i++ {
		if b.TrySend(false) {
			allowed++
		}
	}

	assert.Equal(t, normalThreshold, allowed)
}

func TestRateLimitBucketPriorityThreshold(t *testing.T) {
	b := NewRateLimitBucket(zerolog.Nop())

	allowed := 0
	for i := 0; i < 130; i++ {
		if b.TrySend(true) {
			allowed++
		}
	}

	assert.Equal(t, priorityThreshold, allowed)
}

func TestRateLimitBucketResetsOnWindowRoll(t *testing.T) {
	b := NewRateLimitBucket(zerolog.Nop())
	b.windowEndedAt = b.windowEndedAt.Add(-window)

	assert.True(t, b.TrySend(false))
	assert.Equal(t, 1, b.sent)
}
