package gateway

import (
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// window is the rolling send-rate window every connection is held to.
const window = 60 * time.Second

// normalThreshold and priorityThreshold bound how many messages may be
// sent within a window. Discord's hard limit is 120; Sandwich leaves
// headroom so a burst never trips the gateway's own limiter.
const (
	normalThreshold   = 115
	priorityThreshold = 119
)

// RateLimitBucket implements the 60 second rolling send window described
// in the send-side rate limiter: a normal message is allowed while
// sent < 115, a priority message (heartbeat, identify, resume) while
// sent < 119, so at most 115 and 119 messages pass per window. The
// bucket resets the instant the window elapses.
type RateLimitBucket struct {
	mu            sync.Mutex
	windowEndedAt time.Time
	sent          int
	warned        bool
	log           zerolog.Logger
}

// NewRateLimitBucket creates a bucket whose window starts now.
func NewRateLimitBucket(log zerolog.Logger) *RateLimitBucket {
	return &RateLimitBucket{
		windowEndedAt: time.Now().Add(window),
		log:           log,
	}
}

// TrySend attempts to account for a single outbound message. It returns
// true if the caller may send now. priority relaxes the threshold to
// 119 for heartbeats, identifies, and resumes.
func (b *RateLimitBucket) TrySend(priority bool) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := time.Now()
	if !now.Before(b.windowEndedAt) {
		b.sent = 0
		b.windowEndedAt = now.Add(window)
		b.warned = false
	}

	threshold := normalThreshold
	if priority {
		threshold = priorityThreshold
	}

	if b.sent >= threshold {
		if !b.warned {
			b.log.Warn().Int("sent", b.sent).Bool("priority", priority).Msg("rate limit bucket denying send until window rolls over")
			b.warned = true
		}
		return false
	}

	b.sent++
	return true
}

// WaitDuration returns how long the caller should park before the
// window is guaranteed to have rolled over.
func (b *RateLimitBucket) WaitDuration() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()

	d := time.Until(b.windowEndedAt)
	if d < 0 {
		return 0
	}
	return d
}
