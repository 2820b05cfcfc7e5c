package events

// GatewayOp is a Discord gateway operation code.
type GatewayOp int

// Gateway operation codes, as sent and received on the websocket.
const (
	OpDispatch            GatewayOp = 0
	OpHeartbeat           GatewayOp = 1
	OpIdentify            GatewayOp = 2
	OpStatusUpdate        GatewayOp = 3
	OpVoiceStateUpdate    GatewayOp = 4
	OpResume              GatewayOp = 6
	OpReconnect           GatewayOp = 7
	OpRequestGuildMembers GatewayOp = 8
	OpInvalidSession      GatewayOp = 9
	OpHello               GatewayOp = 10
	OpHeartbeatAck        GatewayOp = 11
)

// Close codes used by the client when terminating a connection.
const (
	CloseNormal            = 1000
	CloseGeneralReconnect  = 4000
	ReasonShuttingDown     = "Shutting down"
	ReasonInvalidateSess   = "INVALIDATE_SESSION"
	ReasonMalformedPackage = "MALFORMED_PACKAGE"
)

// fatalCloseCodes are server-initiated close codes that can never be
// resumed or reconnected from. Anything not in this set is treated as
// reconnect-capable.
var fatalCloseCodes = map[int]string{
	4004: "authentication failed",
	4010: "invalid shard",
	4011: "sharding required",
	4001: "unknown opcode",
	4002: "decode error",
	4003: "not authenticated",
	4005: "already authenticated",
	4007: "invalid seq",
	4008: "rate limited",
	4009: "session timeout",
	4000: "unknown error", // removed in init below: 4000 is also used by us to request reconnects
}

func init() {
	// 4000 sent BY DISCORD means "unknown error" and is reconnect-capable;
	// only the codes above 4000 with a specific meaning are fatal. Remove it
	// so IsFatalCloseCode treats a bare 4000 from the server as recoverable.
	delete(fatalCloseCodes, 4000)
}

// IsFatalCloseCode reports whether a server-sent close code means the
// session can never be resumed or re-identified and must shut down.
func IsFatalCloseCode(code int) bool {
	_, ok := fatalCloseCodes[code]
	return ok
}
