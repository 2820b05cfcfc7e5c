package events

// VoiceCloseReason explains why a queued voice request was dropped,
// either by the sender loop's eligibility checks in next_ready() or by
// the session's post-reconnect reconciliation.
type VoiceCloseReason string

// Reasons a pending voice connection request is abandoned.
const (
	VoiceRemovedFromGuild  VoiceCloseReason = "DISCONNECTED_REMOVED_FROM_GUILD"
	VoiceChannelDeleted    VoiceCloseReason = "DISCONNECTED_CHANNEL_DELETED"
	VoiceLostPermission    VoiceCloseReason = "DISCONNECTED_LOST_PERMISSION"
	VoiceRemovedOnReconnect VoiceCloseReason = "DISCONNECTED_REMOVED_DURING_RECONNECT"
)

// VoiceConnectionListener is notified when a queued voice request is
// abandoned instead of being sent, so callers can tear down any audio
// transport state they were holding for it.
type VoiceConnectionListener interface {
	OnVoiceConnectionClosed(guildID string, reason VoiceCloseReason)
}

// VoiceConnectionListenerFunc adapts a plain function to a
// VoiceConnectionListener.
type VoiceConnectionListenerFunc func(guildID string, reason VoiceCloseReason)

// OnVoiceConnectionClosed implements VoiceConnectionListener.
func (f VoiceConnectionListenerFunc) OnVoiceConnectionClosed(guildID string, reason VoiceCloseReason) {
	f(guildID, reason)
}

// LifecycleKind distinguishes the three ways a session can reach the
// CONNECTED state, and the ways it can leave it.
type LifecycleKind int

// Lifecycle event kinds emitted by the connection state machine.
const (
	LifecycleReady LifecycleKind = iota
	LifecycleReconnected
	LifecycleResumed
	LifecycleDisconnect
	LifecycleShutdown
	LifecycleException
)

// LifecycleEvent is emitted on every notable transition of the
// connection lifecycle so application code can react (metrics, alerts,
// reshard decisions) without reaching into gateway internals.
type LifecycleEvent struct {
	Kind      LifecycleKind
	ShardID   int
	CloseCode int
	Err       error
	RawFrame  []byte
}

// LifecycleListener receives LifecycleEvent notifications.
type LifecycleListener interface {
	OnLifecycleEvent(LifecycleEvent)
}

// LifecycleListenerFunc adapts a plain function to a LifecycleListener.
type LifecycleListenerFunc func(LifecycleEvent)

// OnLifecycleEvent implements LifecycleListener.
func (f LifecycleListenerFunc) OnLifecycleEvent(e LifecycleEvent) { f(e) }
