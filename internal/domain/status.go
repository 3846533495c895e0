package domain

type MessageStatus string

const (
	StatusPending   MessageStatus = "pending"
	StatusSent      MessageStatus = "sent"
	StatusDelivered MessageStatus = "delivered"
	StatusRead      MessageStatus = "read"
	StatusFailed    MessageStatus = "failed"
)

// statusRank orders the non-terminal delivery statuses. "failed" carries no
// rank: it is absorbing and accepted from any current status, including after
// "read" (providers have been observed to emit it late; we keep the override).
var statusRank = map[MessageStatus]int{
	StatusPending:   0,
	StatusSent:      1,
	StatusDelivered: 2,
	StatusRead:      3,
}

func ValidStatus(s MessageStatus) bool {
	if s == StatusFailed {
		return true
	}
	_, ok := statusRank[s]
	return ok
}

// ReportableStatus reports whether a provider may carry this status in a
// callback. Rows start at "pending" internally; no provider ever reports it,
// so on the wire it is malformed input.
func ReportableStatus(s MessageStatus) bool {
	return s != StatusPending && ValidStatus(s)
}

// ShouldApply reports whether an incoming status event may be applied on top
// of the current status. Lower-rank events are discarded so that out-of-order
// webhook delivery (delivered after read) never regresses state.
func ShouldApply(current, incoming MessageStatus) bool {
	if incoming == StatusFailed {
		return true
	}
	ir, ok := statusRank[incoming]
	if !ok {
		return false
	}
	if current == StatusFailed {
		// terminal; only another failed (a no-op rewrite) gets through above
		return false
	}
	cr, ok := statusRank[current]
	if !ok {
		return false
	}
	return ir >= cr
}

type Direction string

const (
	DirectionInbound  Direction = "inbound"
	DirectionOutbound Direction = "outbound"
)

type Channel string

const (
	ChannelOfficialAPI Channel = "official_api"
	ChannelQRGateway   Channel = "qr_gateway"
)

func ValidChannel(c Channel) bool {
	return c == ChannelOfficialAPI || c == ChannelQRGateway
}

type ConversationStatus string

const (
	ConversationPending   ConversationStatus = "pending"
	ConversationOpen      ConversationStatus = "open"
	ConversationArchived  ConversationStatus = "archived"
	ConversationBroadcast ConversationStatus = "broadcast"
)
