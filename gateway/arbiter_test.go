package gateway

import (
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingNode struct {
	name string
	ran  chan string
}

func (n *recordingNode) Run(isLast bool) { n.ran <- n.name }

func TestLocalArbiterRunsInFIFOOrder(t *testing.T) {
	arbiter := NewLocalArbiter(5*time.Millisecond, zerolog.Nop())
	defer arbiter.Stop()

	ran := make(chan string, 3)
	nodes := []*recordingNode{
		{name: "first", ran: ran},
		{name: "second", ran: ran},
		{name: "third", ran: ran},
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for _, n := range nodes {
			arbiter.AppendSession(n, "bucket")
		}
	}()
	wg.Wait()

	order := make([]string, 0, 3)
	for i := 0; i < 3; i++ {
		select {
		case name := <-ran:
			order = append(order, name)
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for arbiter to run node")
		}
	}

	require.Len(t, order, 3)
	assert.Equal(t, []string{"first", "second", "third"}, order)
}

func TestLocalArbiterEnforcesSpacing(t *testing.T) {
	spacing := 40 * time.Millisecond
	arbiter := NewLocalArbiter(spacing, zerolog.Nop())
	defer arbiter.Stop()

	var mu sync.Mutex
	var ranAt []time.Time

	node1 := &recordFuncNode{fn: func() {
		mu.Lock()
		ranAt = append(ranAt, time.Now())
		mu.Unlock()
	}}
	node2 := &recordFuncNode{fn: func() {
		mu.Lock()
		ranAt = append(ranAt, time.Now())
		mu.Unlock()
	}}

	arbiter.AppendSession(node1, "bucket-0")
	arbiter.AppendSession(node2, "bucket-0")

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(ranAt) == 2
	}, time.Second, 5*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.GreaterOrEqual(t, ranAt[1].Sub(ranAt[0]), spacing-5*time.Millisecond)
}

// TestLocalArbiterDoesNotSpaceAcrossBuckets confirms two nodes in
// different max_concurrency buckets are not held to the same 5-second
// spacing as nodes sharing a bucket.
func TestLocalArbiterDoesNotSpaceAcrossBuckets(t *testing.T) {
	spacing := 200 * time.Millisecond
	arbiter := NewLocalArbiter(spacing, zerolog.Nop())
	defer arbiter.Stop()

	var mu sync.Mutex
	var ranAt []time.Time
	record := func() {
		mu.Lock()
		ranAt = append(ranAt, time.Now())
		mu.Unlock()
	}

	arbiter.AppendSession(&recordFuncNode{fn: record}, "bucket-0")
	arbiter.AppendSession(&recordFuncNode{fn: record}, "bucket-1")

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(ranAt) == 2
	}, time.Second, 5*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Less(t, ranAt[1].Sub(ranAt[0]), spacing)
}

type recordFuncNode struct {
	fn func()
}

func (n *recordFuncNode) Run(isLast bool) { n.fn() }
