package gateway

import (
	"context"
	"errors"
	"math"
	"sync"
	"sync/atomic"

	"github.com/go-redis/redis/v8"
	"github.com/nats-io/nats.go"
	stan "github.com/nats-io/stan.go"
	"github.com/rs/zerolog"

	"github.com/sandwich-labs/gatewaycore/client"
	"github.com/sandwich-labs/gatewaycore/events"
)

// ErrNoTokenProvided is returned when no token was passed to the Manager.
var ErrNoTokenProvided = errors.New("no token was provided")

// ErrInvalidTokenPassed is returned when the token passed was not valid.
var ErrInvalidTokenPassed = errors.New("invalid token was passed")

// ErrNotEnoughSessions is caused when the remaining sessions provided by
// /gateway/bot is smaller than the shards remaining to be deployed.
var ErrNotEnoughSessions = errors.New("not enough sessions remaining to start manager")

type void struct{}

// Manager owns every shard group for a single bot token: it fetches
// /gateway/bot, decides the shard layout, and wires each shard's
// Session to the shared registry, caches, and rate limiters.
type Manager struct {
	Token string
	log   zerolog.Logger

	ShardGroups        map[int]*ShardGroup
	ShardGroupsMu      sync.Mutex
	ShardGroupsCounter int64
	MaxShardGroups     int

	// ReadyLimiter caps how many shard-identify attempts may be
	// in flight at once, independent of the arbiter's per-bucket
	// 5-second spacing below.
	ReadyLimiter *ConcurrencyLimiter
	Arbiter      SessionArbiter

	Registry     *events.Registry
	EntityCache  EntityCacheTimeout
	VoiceChecker GuildPermissionChecker
	Lifecycle    events.LifecycleListener
	Stream       *Stream

	Client *client.Client

	RedisClient *redis.Client
	NatsClient  *nats.Conn
	StanClient  stan.Conn
	ctx         context.Context

	Features      Features
	Configuration Configuration

	Gateway *events.GatewayBot
}

// Features toggles behaviour not strictly required by the gateway
// protocol itself but commonly layered on top of it.
type Features struct {
	CacheMembers       bool `json:"cache_members"`
	StoreMutuals       bool `json:"store_mutuals"`
	IgnoreBots         bool `json:"ignore_bots"`
	CheckPrefix        bool `json:"check_prefix"`
	CheckPrefixMention bool `json:"check_prefix_mention"`
	RawEvents          bool `json:"raw_events"`
}

// Configuration stores the clients and any other configuration used
// during init.
type Configuration struct {
	Token string `json:"token"`

	MaxConcurrentIdentifies int `json:"concurrent_identifies"`
	MaxHeartbeatFailures    int `json:"max_heartbeat_failures"`

	AutoSharded bool `json:"autoshard"`
	ShardCount  int  `json:"shard_count"`

	ClusterCount int `json:"cluster_count"`
	ClusterID    int `json:"cluster_id"`

	Redis struct {
		Address  string `json:"address"`
		Password string `json:"password"`
		Database int    `json:"database"`
		Prefix   string `json:"prefix"`
	} `json:"redis"`

	Nats struct {
		Address   string `json:"address"`
		Channel   string `json:"channel"`
		ClusterID string `json:"cluster"`
		ClientID  string `json:"client"`
	} `json:"nats"`

	EventBlacklist       map[string]void
	EventBlacklistValues []string `json:"event_blacklist"`

	ProduceBlacklist       map[string]void
	ProduceBlacklistValues []string `json:"produce_blacklist"`

	Compression        bool                       `json:"compression"`
	LargeThreshold      int                       `json:"large_threshold"`
	DefaultPresence     *events.PresenceUpdateData `json:"default_activity"`
	GuildSubscriptions  bool                       `json:"guild_subscriptions"`
	Intents             int                        `json:"intents"`
}

// NewManager creates the manager, connects to redis and nats/stan, and
// prepares its identify concurrency limiter and arbiter.
func NewManager(configuration Configuration, features Features, registry *events.Registry, entityCache EntityCacheTimeout, voiceChecker GuildPermissionChecker, lifecycle events.LifecycleListener, logger zerolog.Logger) (m *Manager, err error) {
	if configuration.Token == "" {
		return nil, ErrNoTokenProvided
	}
	if configuration.MaxConcurrentIdentifies <= 0 {
		configuration.MaxConcurrentIdentifies = 1
	}
	if configuration.MaxHeartbeatFailures <= 0 {
		configuration.MaxHeartbeatFailures = 5
	}
	if configuration.EventBlacklist == nil {
		configuration.EventBlacklist = make(map[string]void)
	}
	if configuration.ProduceBlacklist == nil {
		configuration.ProduceBlacklist = make(map[string]void)
	}

	m = &Manager{
		Token:          configuration.Token,
		ShardGroups:    make(map[int]*ShardGroup),
		MaxShardGroups: 2,
		ReadyLimiter:   NewConcurrencyLimiter(configuration.MaxConcurrentIdentifies),
		Arbiter:        NewLocalArbiter(identifySpacing, logger),
		Registry:       registry,
		EntityCache:    entityCache,
		VoiceChecker:   voiceChecker,
		Lifecycle:      lifecycle,
		Client:         client.NewClient(configuration.Token, logger),
		Features:       features,
		Configuration:  configuration,
		log:            logger,
		ctx:            context.Background(),
	}

	for _, i := range m.Configuration.EventBlacklistValues {
		m.Configuration.EventBlacklist[i] = void{}
	}
	for _, i := range m.Configuration.ProduceBlacklistValues {
		m.Configuration.ProduceBlacklist[i] = void{}
	}

	m.RedisClient = redis.NewClient(&redis.Options{
		Addr:     m.Configuration.Redis.Address,
		Password: m.Configuration.Redis.Password,
		DB:       m.Configuration.Redis.Database,
	})
	if err = m.RedisClient.Ping(m.ctx).Err(); err != nil {
		return nil, err
	}

	m.NatsClient, err = nats.Connect(m.Configuration.Nats.Address)
	if err != nil {
		return nil, err
	}

	m.StanClient, err = stan.Connect(
		m.Configuration.Nats.ClusterID,
		m.Configuration.Nats.ClientID,
		stan.NatsConn(m.NatsClient),
	)
	if err != nil {
		return nil, err
	}

	m.Stream = NewStream(m.StanClient, m.Configuration.Nats.Channel, m.Configuration.ProduceBlacklist, m.log)

	return m, nil
}

// Open fetches /gateway/bot, decides the shard layout, and starts the
// first ShardGroup.
func (m *Manager) Open() error {
	res := new(events.GatewayBot)
	if err := m.Client.FetchJSON("GET", "/gateway/bot", nil, &res); err != nil {
		return err
	}
	m.Gateway = res

	m.log.Info().
		Str("version", VERSION).
		Int("cluster", m.Configuration.ClusterID).
		Int("clusters", m.Configuration.ClusterCount).
		Int("sessions_remaining", res.SessionStartLimit.Remaining).
		Int("sessions_total", res.SessionStartLimit.Total).
		Int("max_concurrency", res.SessionStartLimit.MaxConcurrency).
		Msg("gatewaycore starting up")

	if m.Configuration.ShardCount*2 >= res.SessionStartLimit.Remaining {
		m.log.Warn().Msgf("shard count %d is near the remaining session limit of %d", m.Configuration.ShardCount, res.SessionStartLimit.Remaining)
	}

	var shardCount int
	if m.Configuration.AutoSharded || m.Configuration.ShardCount < res.Shards/2 {
		shardCount = res.Shards
	} else {
		shardCount = m.Configuration.ShardCount
	}

	if shardCount > 63 {
		shardCount = int(math.Ceil(float64(shardCount)/16)) * 16
	}

	m.log.Info().Msgf("using %d shard(s)", shardCount)

	return m.Scale(m.CreateShardIDs(shardCount), shardCount)
}

// Close stops every running ShardGroup.
func (m *Manager) Close() {
	m.log.Info().Msg("closing manager")
	for _, sg := range m.ShardGroups {
		sg.Stop()
	}
}

// SessionForShard returns the currently running session for shardID
// from the most recently started ShardGroup, so a resharding operation
// resolves to the new generation. Older groups are not searched.
func (m *Manager) SessionForShard(shardID int) (*Session, bool) {
	m.ShardGroupsMu.Lock()
	counter := int(atomic.LoadInt64(&m.ShardGroupsCounter)) % m.MaxShardGroups
	sg, ok := m.ShardGroups[counter]
	m.ShardGroupsMu.Unlock()
	if !ok {
		return nil, false
	}
	return sg.Session(shardID)
}

// GatewayScale re-fetches /gateway/bot and scales to its shard count.
func (m *Manager) GatewayScale() error {
	res := new(events.GatewayBot)
	if err := m.Client.FetchJSON("GET", "/gateway/bot", nil, &res); err != nil {
		return err
	}
	if res.Shards > 63 {
		res.Shards = int(math.Ceil(float64(res.Shards)/16)) * 16
	}
	m.Gateway = res

	return m.Scale(m.CreateShardIDs(m.Gateway.Shards), m.Gateway.Shards)
}

// Scale creates a new ShardGroup and stops the oldest one once it has
// finished starting up.
func (m *Manager) Scale(shardIDs []int, shardCount int) error {
	sg := NewShardGroup(m, shardIDs, shardCount)
	return sg.Start()
}

// CreateShardIDs returns the shard ids this cluster is responsible for.
func (m *Manager) CreateShardIDs(shardCount int) []int {
	if m.Configuration.ClusterCount <= 0 {
		m.Configuration.ClusterCount = 1
	}

	deployedShards := shardCount / m.Configuration.ClusterCount
	shardIDs := make([]int, 0, deployedShards)
	for i := deployedShards * m.Configuration.ClusterID; i < deployedShards*(m.Configuration.ClusterID+1); i++ {
		shardIDs = append(shardIDs, i)
	}
	return shardIDs
}
