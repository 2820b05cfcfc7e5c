package gateway

import (
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// ArbiterNode is a single pending connect/reconnect attempt submitted
// to a SessionArbiter. Run is invoked once this node's turn to
// identify has come; when isLast is false another node is already
// queued behind it, and Run must not return until the session has
// reached AWAITING_LOGIN_CONFIRMATION so the arbiter never lets two
// IDENTIFYs race inside the same 5 second window.
type ArbiterNode interface {
	Run(isLast bool)
}

// SessionArbiter serialises IDENTIFY attempts across every shard that
// shares it, per component 4.I. bucketKey scopes the 5-second spacing
// to the caller's max_concurrency bucket (see bucketKey in limiter.go)
// so shards in different buckets may identify concurrently, matching
// what Discord's /gateway/bot max_concurrency actually allows.
type SessionArbiter interface {
	AppendSession(node ArbiterNode, bucketKey string)
	RemoveSession(node ArbiterNode)
}

// queuedNode pairs a pending ArbiterNode with the bucket key its
// identify must be spaced within.
type queuedNode struct {
	node      ArbiterNode
	bucketKey string
}

// LocalArbiter is an in-process SessionArbiter: a single FIFO queue of
// pending nodes, drained by one goroutine that spaces consecutive
// same-bucket Run calls by at least `spacing` using a BucketStore
// keyed per max_concurrency bucket, so nodes in different buckets
// never wait on each other.
type LocalArbiter struct {
	mu    sync.Mutex
	cond  *sync.Cond
	queue []queuedNode

	bucket  *BucketStore
	spacing time.Duration

	stop     chan struct{}
	stopOnce sync.Once
	log      zerolog.Logger
}

// NewLocalArbiter creates an arbiter enforcing spacing between
// consecutive identifies and starts its drain loop.
func NewLocalArbiter(spacing time.Duration, log zerolog.Logger) *LocalArbiter {
	a := &LocalArbiter{
		bucket:  NewBucketStore(),
		spacing: spacing,
		stop:    make(chan struct{}),
		log:     log,
	}
	a.cond = sync.NewCond(&a.mu)
	go a.run()
	return a
}

// AppendSession enqueues node for its turn to identify, spaced against
// other nodes sharing the same bucketKey.
func (a *LocalArbiter) AppendSession(node ArbiterNode, bucketKey string) {
	a.mu.Lock()
	a.queue = append(a.queue, queuedNode{node: node, bucketKey: bucketKey})
	a.cond.Signal()
	a.mu.Unlock()
}

// RemoveSession drops node from the queue if it has not yet run,
// e.g. because a shutdown was requested while it was still waiting.
func (a *LocalArbiter) RemoveSession(node ArbiterNode) {
	a.mu.Lock()
	defer a.mu.Unlock()

	for i, n := range a.queue {
		if n.node == node {
			a.queue = append(a.queue[:i], a.queue[i+1:]...)
			return
		}
	}
}

func (a *LocalArbiter) run() {
	for {
		a.mu.Lock()
		for len(a.queue) == 0 {
			select {
			case <-a.stop:
				a.mu.Unlock()
				return
			default:
			}
			a.cond.Wait()
		}

		select {
		case <-a.stop:
			a.mu.Unlock()
			return
		default:
		}

		qn := a.queue[0]
		a.queue = a.queue[1:]
		isLast := len(a.queue) == 0
		a.mu.Unlock()

		a.bucket.CreateWaitForBucket(qn.bucketKey, 1, a.spacing)
		qn.node.Run(isLast)
	}
}

// Stop halts the drain loop; any nodes still queued are abandoned.
func (a *LocalArbiter) Stop() {
	a.stopOnce.Do(func() {
		close(a.stop)
		a.mu.Lock()
		a.cond.Broadcast()
		a.mu.Unlock()
	})
}
