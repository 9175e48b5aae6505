package call

// SignalState enumerates the dialog states reported by the signaling engine.
// These are transient signaling facts, not session status values; they drive
// protocol response side effects and status transitions.
type SignalState int

const (
	SignalIncoming SignalState = iota
	SignalEarly
	SignalConnecting
	SignalConfirmed
	SignalDisconnected
)

func (s SignalState) String() string {
	switch s {
	case SignalIncoming:
		return "incoming"
	case SignalEarly:
		return "early"
	case SignalConnecting:
		return "connecting"
	case SignalConfirmed:
		return "confirmed"
	case SignalDisconnected:
		return "disconnected"
	}
	return "unknown"
}

// StreamInfo describes one established media stream as reported by the
// signaling engine.
type StreamInfo struct {
	ID        int
	Port      int
	CodecName string
	ClockRate int
	Channels  int
}

// EventHandler is invoked by the signaling engine as call events arrive.
// Implementations must isolate per-event failures: an error while handling
// one event never propagates back into the engine.
type EventHandler interface {
	// OnIncoming reports a new dialog. headers carries the raw header
	// lines of the initiating request for correlation extraction.
	OnIncoming(callID string, headers []string)

	// OnStateChange reports a dialog state transition.
	OnStateChange(callID string, state SignalState)

	// OnStreamEstablished reports a negotiated media stream. May arrive
	// before or after dialog confirmation.
	OnStreamEstablished(callID string, stream StreamInfo)
}

// Answerer lets the state machine emit protocol responses on a dialog. The
// signaling engine implements it; statusCode carries SIP semantics (100
// Trying, 180 Ringing, 200 OK).
type Answerer interface {
	Answer(callID string, statusCode int) error
}
