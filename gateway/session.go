package gateway

import (
	"context"
	encjson "encoding/json"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/sandwich-labs/gatewaycore/events"
)

// identifySpacing is the global minimum gap between consecutive
// IDENTIFYs the arbiter enforces across every shard that shares it.
const identifySpacing = 5 * time.Second

// initialBackoff and maxBackoff bound the local resume loop of
// component 4.H.
const initialBackoff = 2 * time.Second

// EntityCacheInvalidator is implemented by an entity cache that can be
// fully reset; invalidate() uses it if the borrowed cache supports it.
type EntityCacheInvalidator interface {
	Clear()
}

// Session is a single gateway connection: component 4.G's state
// machine wired to the decompressor, rate bucket, queues, voice
// queue, sender and heartbeat scheduler that back it. One Session
// exists per shard for the lifetime of the shard, surviving any
// number of reconnects.
type Session struct {
	Manager    *Manager
	ShardGroup *ShardGroup
	ShardID    int
	ShardCount int

	registry     *events.Registry
	cache        EntityCacheTimeout
	voiceChecker GuildPermissionChecker
	lifecycle    events.LifecycleListener

	log zerolog.Logger

	status  *StatusCell
	arbiter SessionArbiter

	conn         *Connection
	decompressor Decompressor
	bucket       *RateLimitBucket
	queues       *PriorityQueues
	voice        *VoiceQueue
	sender       *Sender

	hbMu sync.Mutex
	hb   *HeartbeatScheduler

	dispatcher *Dispatcher

	seq int64

	sessionMu               sync.Mutex
	sessionID               string
	authSent                bool
	processingReady         bool
	initiating              bool
	handleIdentifyRateLimit bool
	identifyTime            time.Time
	hasConnectedBefore      bool
	closeWasSelfInvalidate  bool

	maxBackoff time.Duration
	backoff    time.Duration

	shutdownRequested int32
}

// NewSession constructs a shard's session. voiceChecker and lifecycle
// may be nil.
func NewSession(
	manager *Manager,
	shardID, shardCount int,
	arbiter SessionArbiter,
	registry *events.Registry,
	cache EntityCacheTimeout,
	voiceChecker GuildPermissionChecker,
	lifecycle events.LifecycleListener,
	log zerolog.Logger,
) *Session {
	s := &Session{
		Manager:      manager,
		ShardID:      shardID,
		ShardCount:   shardCount,
		registry:     registry,
		cache:        cache,
		voiceChecker: voiceChecker,
		lifecycle:    lifecycle,
		log:          log.With().Int("shard", shardID).Logger(),
		status:       NewStatusCell(StatusConnecting),
		arbiter:      arbiter,
		maxBackoff:   120 * time.Second,
		backoff:      initialBackoff,
	}
	s.voice = NewVoiceQueue(voiceChecker, events.VoiceConnectionListenerFunc(func(guildID string, reason events.VoiceCloseReason) {
		s.log.Debug().Str("guild", guildID).Str("reason", string(reason)).Msg("session: voice request abandoned")
	}))
	return s
}

// Status returns the session's current lifecycle status.
func (s *Session) Status() Status { return s.status.Get() }

// Open runs the session until Shutdown is called or a fatal close
// code is received from the server. It blocks for the lifetime of the
// shard.
func (s *Session) Open() {
	for {
		if s.isShuttingDown() {
			s.status.Set(StatusShutdown)
			s.emitLifecycle(events.LifecycleShutdown, 0, nil)
			return
		}

		if !s.establishConnection() {
			if s.isShuttingDown() {
				s.status.Set(StatusShutdown)
				s.emitLifecycle(events.LifecycleShutdown, 0, nil)
				return
			}
			continue
		}

		closeCode, closeErr := s.readLoop()

		if !s.handleDisconnect(closeCode, closeErr) {
			return
		}
	}
}

// Shutdown requests the session terminate; any in-flight connection
// is closed with 1000 "Shutting down".
func (s *Session) Shutdown() {
	atomic.StoreInt32(&s.shutdownRequested, 1)
	if s.conn != nil {
		_ = s.conn.CloseWithCode(events.CloseNormal, "Shutting down")
	}
}

func (s *Session) isShuttingDown() bool {
	return atomic.LoadInt32(&s.shutdownRequested) == 1
}

// establishConnection implements component 4.H's algorithm: a fresh
// IDENTIFY goes through the arbiter so shards sharing a max_concurrency
// bucket are spaced 5 seconds apart; a RESUME is attempted with a
// local doubling backoff since it carries no such constraint.
func (s *Session) establishConnection() bool {
	s.sessionMu.Lock()
	hasSession := s.sessionID != ""
	rateLimited := s.handleIdentifyRateLimit
	identifyTime := s.identifyTime
	s.sessionMu.Unlock()

	if !hasSession {
		if rateLimited {
			if wait := identifySpacing - time.Since(identifyTime); wait > 0 {
				time.Sleep(wait)
			}
		}

		s.status.Set(StatusReconnectQueued)

		if err := s.Manager.ReadyLimiter.Wait(context.Background()); err != nil {
			return false
		}

		done := make(chan struct{})
		var ok bool
		node := arbiterNodeFunc(func(isLast bool) {
			ok = s.dialAndLogin()
			s.Manager.ReadyLimiter.FreeTicket()
			if ok && !isLast {
				s.status.AwaitAny(StatusAwaitingLoginConfirmation, StatusDisconnected, StatusShutdown)
			}
			close(done)
		})
		s.arbiter.AppendSession(node, bucketKey(s.maxConcurrency(), s.ShardID))
		<-done
		return ok
	}

	for {
		if s.isShuttingDown() {
			return false
		}

		s.status.Set(StatusAttemptingToReconnect)
		time.Sleep(s.backoff)

		if s.dialAndLogin() {
			s.backoff = initialBackoff
			return true
		}

		s.backoff *= 2
		if s.backoff > s.maxBackoff {
			s.backoff = s.maxBackoff
		}
	}
}

// maxConcurrency reports the max_concurrency the bot's /gateway/bot
// response carried, defaulting to 1 (a single shared bucket) before
// that response has arrived.
func (s *Session) maxConcurrency() int {
	if s.Manager == nil || s.Manager.Gateway == nil {
		return 1
	}
	return s.Manager.Gateway.SessionStartLimit.MaxConcurrency
}

// arbiterNodeFunc adapts a plain function to an ArbiterNode.
type arbiterNodeFunc func(isLast bool)

func (f arbiterNodeFunc) Run(isLast bool) { f(isLast) }

// dialAndLogin dials the gateway, waits for HELLO, and sends either
// IDENTIFY or RESUME depending on whether a session is held. It
// returns once the login frame has been sent, before any reply has
// arrived.
func (s *Session) dialAndLogin() bool {
	s.status.Set(StatusConnecting)
	s.closeWasSelfInvalidate = false

	gatewayURL, err := BuildGatewayURL(s.Manager.Gateway.URL, true)
	if err != nil {
		s.log.Error().Err(err).Msg("session: failed to build gateway url")
		return false
	}

	ws, _, err := websocket.DefaultDialer.Dial(gatewayURL, nil)
	if err != nil {
		s.log.Warn().Err(err).Msg("session: failed to dial gateway")
		return false
	}
	ws.SetReadLimit(512 << 20)

	s.conn = NewConnection(ws)
	s.decompressor = NewDecompressor(KindZlibStream)
	s.bucket = NewRateLimitBucket(s.log)
	s.queues = NewPriorityQueues()
	s.sender = NewSender(s.conn, s.bucket, s.queues, s.voice, s.log)

	s.dispatcher = NewDispatcher(s.registry, s.cache, DispatcherCallbacks{
		OnHello:              s.onHello,
		OnHeartbeatTrigger:   s.onHeartbeatTrigger,
		OnHeartbeatAck:       s.onHeartbeatAck,
		OnReconnectRequested: s.onReconnectRequested,
		OnInvalidateSession:  s.onInvalidateSession,
		OnReady:              s.onReady,
		OnResumed:            s.onResumed,
		OnHandlerException:   s.onHandlerException,
	}, &s.seq, s.log)

	if s.Manager.Features.RawEvents && s.Manager.Stream != nil {
		s.dispatcher.EnableRawEvents(func(seq int64, raw encjson.RawMessage) error {
			s.Manager.Stream.Publish("RAW", raw)
			return nil
		})
	}

	go s.sender.Run(s.isAuthenticated)

	frame, binary, err := s.conn.ReadFrame()
	if err != nil {
		s.log.Warn().Err(err).Msg("session: failed to read hello")
		s.sender.Stop()
		return false
	}

	text, ok, err := s.decodeFrame(frame, binary)
	if err != nil || !ok {
		s.log.Warn().Err(err).Msg("session: failed to decode hello frame")
		s.sender.Stop()
		return false
	}

	if err := s.dispatcher.Dispatch(text); err != nil {
		s.sender.Stop()
		return false
	}

	s.status.Set(StatusIdentifying)

	s.sessionMu.Lock()
	hasSession := s.sessionID != ""
	sessionID := s.sessionID
	s.sessionMu.Unlock()

	if hasSession {
		seq := atomic.LoadInt64(&s.seq)
		s.log.Debug().Str("session", sessionID).Int64("seq", seq).Msg("session: sending resume")
		err = s.sender.SendPriority(events.SentPayload{
			Op: events.OpResume,
			Data: events.Resume{
				Token:     s.Manager.Token,
				SessionID: sessionID,
				Seq:       seq,
			},
		})
	} else {
		s.log.Debug().Msg("session: sending identify")
		err = s.sender.SendPriority(events.SentPayload{
			Op:   events.OpIdentify,
			Data: s.identifyPayload(),
		})
		s.sessionMu.Lock()
		s.handleIdentifyRateLimit = true
		s.identifyTime = time.Now()
		s.sessionMu.Unlock()
	}
	if err != nil {
		s.log.Warn().Err(err).Msg("session: failed to send login frame")
		s.sender.Stop()
		return false
	}

	s.status.Set(StatusAwaitingLoginConfirmation)
	return true
}

func (s *Session) identifyPayload() events.Identify {
	guildSubs := s.Manager.Configuration.GuildSubscriptions

	return events.Identify{
		Token: s.Manager.Token,
		Properties: &events.IdentifyProperties{
			OS:      runtime.GOOS,
			Browser: "gatewaycore",
			Device:  "gatewaycore",
		},
		Version:        6,
		LargeThreshold: 250,
		Presence:       s.Manager.Configuration.DefaultPresence,
		Shard:          &[2]int{s.ShardID, s.ShardCount},
		Intents:        s.Manager.Configuration.Intents,
		GuildSubs:      &guildSubs,
	}
}

func (s *Session) decodeFrame(frame []byte, binary bool) ([]byte, bool, error) {
	if !binary {
		return frame, true, nil
	}
	return s.decompressor.Decompress(frame)
}

// readLoop reads and dispatches inbound frames until the socket
// closes, returning the close code and error that ended it.
func (s *Session) readLoop() (int, error) {
	for {
		if s.isShuttingDown() {
			_ = s.conn.CloseWithCode(events.CloseNormal, "Shutting down")
		}

		frame, binary, err := s.conn.ReadFrame()
		if err != nil {
			return closeCodeFromErr(err), err
		}

		text, ok, err := s.decodeFrame(frame, binary)
		if err != nil {
			s.log.Warn().Err(err).Msg("session: malformed package")
			_ = s.conn.CloseWithCode(events.CloseGeneralReconnect, events.ReasonMalformedPackage)
			return events.CloseGeneralReconnect, err
		}
		if !ok {
			continue
		}

		if err := s.dispatcher.Dispatch(text); err != nil {
			s.log.Warn().Err(err).Msg("session: failed to process frame")
		}
	}
}

func closeCodeFromErr(err error) int {
	if ce, ok := err.(*websocket.CloseError); ok {
		return ce.Code
	}
	return websocket.CloseAbnormalClosure
}

// handleDisconnect implements the disconnect half of component 4.G.
// It reports whether Open should attempt another connection.
func (s *Session) handleDisconnect(closeCode int, closeErr error) bool {
	if hb := s.heartbeatScheduler(); hb != nil {
		hb.Stop()
	}
	s.sender.Stop()

	shuttingDown := s.isShuttingDown()
	fatal := events.IsFatalCloseCode(closeCode)

	if shuttingDown || fatal {
		s.status.Set(StatusShutdown)
		s.decompressor.Shutdown()
		s.emitLifecycle(events.LifecycleShutdown, closeCode, closeErr)
		return false
	}

	s.status.Set(StatusDisconnected)
	s.decompressor.Reset()

	if s.closeWasSelfInvalidate {
		s.invalidate()
	}

	s.emitLifecycle(events.LifecycleDisconnect, closeCode, closeErr)
	s.status.Set(StatusWaitingToReconnect)
	return true
}

// invalidate clears the session so the next connection attempt must
// IDENTIFY from scratch instead of resuming.
func (s *Session) invalidate() {
	s.sessionMu.Lock()
	s.sessionID = ""
	s.authSent = false
	s.sessionMu.Unlock()

	s.queues.DrainChunk()

	if inv, ok := s.cache.(EntityCacheInvalidator); ok {
		inv.Clear()
	}
}

func (s *Session) onHello(interval time.Duration) {
	hb := NewHeartbeatScheduler(interval, s.sender, &s.seq, s.onHeartbeatRTT, s.log)
	s.hbMu.Lock()
	s.hb = hb
	s.hbMu.Unlock()
	hb.Start()
}

func (s *Session) heartbeatScheduler() *HeartbeatScheduler {
	s.hbMu.Lock()
	defer s.hbMu.Unlock()
	return s.hb
}

func (s *Session) onHeartbeatTrigger() {
	if hb := s.heartbeatScheduler(); hb != nil {
		hb.Beat()
	}
}

func (s *Session) onHeartbeatAck() {
	if hb := s.heartbeatScheduler(); hb != nil {
		hb.Ack()
	}
}

func (s *Session) onHeartbeatRTT(rtt time.Duration) {
	s.log.Debug().Dur("rtt", rtt).Msg("session: heartbeat ack")
}

func (s *Session) onReconnectRequested() {
	_ = s.conn.CloseWithCode(events.CloseGeneralReconnect, "")
}

func (s *Session) onInvalidateSession(resumable bool) {
	s.sessionMu.Lock()
	now := time.Now()
	s.handleIdentifyRateLimit = s.handleIdentifyRateLimit && now.Sub(s.identifyTime) < identifySpacing
	s.sessionMu.Unlock()

	if resumable {
		_ = s.conn.CloseWithCode(events.CloseGeneralReconnect, "")
		return
	}

	s.sessionMu.Lock()
	s.sessionID = ""
	s.sessionMu.Unlock()

	s.closeWasSelfInvalidate = true
	_ = s.conn.CloseWithCode(events.CloseNormal, events.ReasonInvalidateSess)
}

func (s *Session) onReady(sessionID string) {
	s.sessionMu.Lock()
	s.sessionID = sessionID
	s.authSent = true
	s.processingReady = true
	s.initiating = true
	alreadyConnected := s.hasConnectedBefore
	s.hasConnectedBefore = true
	s.sessionMu.Unlock()

	kind := events.LifecycleReady
	if alreadyConnected {
		kind = events.LifecycleReconnected
	}
	s.ready(kind)
}

func (s *Session) onResumed() {
	s.sessionMu.Lock()
	s.authSent = true
	processingReady := s.processingReady
	s.sessionMu.Unlock()

	if !processingReady {
		s.ready(events.LifecycleResumed)
	}
}

func (s *Session) ready(kind events.LifecycleKind) {
	s.sessionMu.Lock()
	s.initiating = false
	s.processingReady = false
	s.sessionMu.Unlock()

	if kind == events.LifecycleReconnected {
		s.reconcileVoiceOnReconnect()
	}

	s.status.Set(StatusConnected)
	s.emitLifecycle(kind, 0, nil)
}

func (s *Session) reconcileVoiceOnReconnect() {
	if s.voiceChecker == nil {
		return
	}
	for _, guildID := range s.voice.GuildIDs() {
		if s.voiceChecker.GuildExists(guildID) {
			continue
		}
		if _, ok := s.voice.Remove(guildID); ok {
			s.log.Debug().Str("guild", guildID).Msg("session: removed stale voice request on reconnect")
			s.voice.notify(guildID, events.VoiceRemovedOnReconnect)
		}
	}
}

func (s *Session) onHandlerException(err error, event string, frame []byte) {
	s.emitLifecycle(events.LifecycleException, 0, err)
}

func (s *Session) isAuthenticated() bool {
	return s.status.Get() == StatusConnected
}

func (s *Session) emitLifecycle(kind events.LifecycleKind, closeCode int, err error) {
	if s.lifecycle == nil {
		return
	}
	s.lifecycle.OnLifecycleEvent(events.LifecycleEvent{
		Kind:      kind,
		ShardID:   s.ShardID,
		CloseCode: closeCode,
		Err:       err,
	})
}

// RequestGuildMembers enqueues a REQUEST_GUILD_MEMBERS onto the
// chunk/sync priority tier.
func (s *Session) RequestGuildMembers(req events.RequestGuildMembersData) error {
	data, err := json.Marshal(events.SentPayload{Op: events.OpRequestGuildMembers, Data: req})
	if err != nil {
		return err
	}
	s.queues.PushChunk(string(data))
	s.sender.Wake()
	return nil
}

// SendGeneral enqueues an arbitrary payload onto the general priority
// tier, e.g. STATUS_UPDATE.
func (s *Session) SendGeneral(op events.GatewayOp, data interface{}) error {
	payload, err := json.Marshal(events.SentPayload{Op: op, Data: data})
	if err != nil {
		return err
	}
	s.queues.PushGeneral(string(payload))
	s.sender.Wake()
	return nil
}

// QueueVoiceConnect requests a voice connection to channelID.
func (s *Session) QueueVoiceConnect(guildID, channelID string) {
	s.voice.QueueConnect(guildID, channelID)
	s.sender.Wake()
}

// QueueVoiceReconnect requests a voice reconnect for guildID.
func (s *Session) QueueVoiceReconnect(guildID string) {
	s.voice.QueueReconnect(guildID)
	s.sender.Wake()
}

// QueueVoiceDisconnect requests a voice disconnect for guildID.
func (s *Session) QueueVoiceDisconnect(guildID string) {
	s.voice.QueueDisconnect(guildID)
	s.sender.Wake()
}

// IngestVoiceStateUpdate feeds a server-reported voice state change
// for our own session back into the voice queue's response-ingestion
// step.
func (s *Session) IngestVoiceStateUpdate(guildID string, connectedChannel *string) {
	s.voice.Update(guildID, connectedChannel)
}
