package gateway

import (
	"sync"
	"sync/atomic"
)

// ShardGroup is a fixed set of shards spun up together, e.g. during a
// resharding operation: every shard in the group starts before the
// previous ShardGroup is torn down.
type ShardGroup struct {
	Manager *Manager

	ShardCount int
	ShardIDs   []int

	shardsMu sync.Mutex
	Shards   map[int]*Session

	err error
}

// NewShardGroup creates an (unstarted) ShardGroup.
func NewShardGroup(m *Manager, shardIDs []int, shardCount int) *ShardGroup {
	m.log.Info().Int("shard_count", shardCount).Int("shards", len(shardIDs)).Msg("creating shard group")
	return &ShardGroup{
		Manager:    m,
		ShardCount: shardCount,
		ShardIDs:   shardIDs,
		Shards:     make(map[int]*Session),
	}
}

// Session returns the running session for shardID, if this group has
// spawned one.
func (sg *ShardGroup) Session(shardID int) (*Session, bool) {
	sg.shardsMu.Lock()
	defer sg.shardsMu.Unlock()
	session, ok := sg.Shards[shardID]
	return session, ok
}

// Spawn creates a Session for shardID and runs its Open loop on a new
// goroutine. It returns without waiting; Start is what waits for each
// session to reach AWAITING_LOGIN_CONFIRMATION.
func (sg *ShardGroup) Spawn(shardID int) *Session {
	m := sg.Manager

	session := NewSession(
		m,
		shardID,
		sg.ShardCount,
		m.Arbiter,
		m.Registry,
		m.EntityCache,
		m.VoiceChecker,
		m.Lifecycle,
		m.log,
	)
	session.ShardGroup = sg

	sg.shardsMu.Lock()
	sg.Shards[shardID] = session
	sg.shardsMu.Unlock()

	go session.Open()

	return session
}

// Start spawns every shard in the group and waits for each to reach
// its first AWAITING_LOGIN_CONFIRMATION, then retires the oldest
// ShardGroup still tracked by the manager.
func (sg *ShardGroup) Start() error {
	wg := sync.WaitGroup{}
	sg.err = nil

	for _, shardID := range sg.ShardIDs {
		wg.Add(1)
		go func(shardID int) {
			defer wg.Done()
			session := sg.Spawn(shardID)
			session.status.AwaitAny(StatusAwaitingLoginConfirmation, StatusShutdown, StatusDisconnected)
		}(shardID)
	}
	wg.Wait()

	if sg.err != nil {
		sg.Stop()
		return sg.err
	}

	sg.Manager.ShardGroupsMu.Lock()
	counter := int(atomic.LoadInt64(&sg.Manager.ShardGroupsCounter)) % sg.Manager.MaxShardGroups
	if old, ok := sg.Manager.ShardGroups[counter]; ok {
		old.Stop()
		delete(sg.Manager.ShardGroups, counter)
	}

	atomic.AddInt64(&sg.Manager.ShardGroupsCounter, 1)
	counter = int(atomic.LoadInt64(&sg.Manager.ShardGroupsCounter)) % sg.Manager.MaxShardGroups
	sg.Manager.ShardGroups[counter] = sg
	sg.Manager.ShardGroupsMu.Unlock()

	return nil
}

// Stop shuts down every shard in the group.
func (sg *ShardGroup) Stop() {
	sg.shardsMu.Lock()
	defer sg.shardsMu.Unlock()
	for _, session := range sg.Shards {
		session.Shutdown()
	}
}
