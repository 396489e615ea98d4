package xlat

// TCPState is a state of the per-session TCP FSM.
// CLOSED is never persisted: it only appears as the "no session yet"
// input state to ApplyEvent.
type TCPState uint8

const (
	TCPClosed TCPState = iota
	TCPV4Init
	TCPV6Init
	TCPEstablished
	TCPV4FinRcv
	TCPV6FinRcv
	TCPV4FinV6FinRcv
	TCPTrans
)

func (s TCPState) String() string {
	switch s {
	case TCPV4Init:
		return "V4_INIT"
	case TCPV6Init:
		return "V6_INIT"
	case TCPEstablished:
		return "ESTABLISHED"
	case TCPV4FinRcv:
		return "V4_FIN_RCV"
	case TCPV6FinRcv:
		return "V6_FIN_RCV"
	case TCPV4FinV6FinRcv:
		return "V4_FIN_V6_FIN_RCV"
	case TCPTrans:
		return "TRANS"
	default:
		return "CLOSED"
	}
}

// TCPEvent classifies an incoming TCP segment for FSM purposes. Other
// covers any segment that is neither a bare SYN, a FIN, nor an RST
// (used to trigger the "refresh EST timer" default action).
type TCPEvent uint8

const (
	EventV6Syn TCPEvent = iota
	EventV4Syn
	EventV6Fin
	EventV4Fin
	EventRst
	EventOther
)

// TCPAction is a side effect ApplyEvent asks the caller to perform.
// The FSM itself is pure: it never touches timers, the pending-SYN
// queue, or the Session DB directly.
type TCPAction uint8

const (
	ActionNone TCPAction = iota
	ActionSetTCPTransTimer
	ActionSetTCPIncomingSynTimer
	ActionSetTCPEstTimer
	ActionDiscardStoredSyn
	ActionRefreshEstIfEstablished
)

type stateEvent struct {
	state TCPState
	event TCPEvent
}

// TCPResult is what ApplyEvent returns: the next state (equal to the
// input state if the transition is not in the table) and the side
// effect the caller must perform.
type TCPResult struct {
	Next TCPState
	Action TCPAction
	Moved bool
}

// tcpTransitions is the table-driven core of the TCP FSM, directly
// transcribing RFC 6146 §3.5.2's state transition table. Unlisted
// (state, event) pairs fall through to the default case in
// ApplyEvent: the session does not move and the packet is not
// dropped.
var tcpTransitions = map[stateEvent]TCPResult{
	{TCPClosed, EventV6Syn}: {Next: TCPV6Init, Action: ActionSetTCPTransTimer, Moved: true},
	{TCPClosed, EventV4Syn}: {Next: TCPV4Init, Action: ActionSetTCPIncomingSynTimer, Moved: true},

	{TCPV6Init, EventV4Syn}: {Next: TCPEstablished, Action: ActionSetTCPEstTimer, Moved: true},
	{TCPV4Init, EventV6Syn}: {Next: TCPEstablished, Action: ActionSetTCPEstTimer | actionDiscardFlag, Moved: true},

	{TCPEstablished, EventV4Fin}: {Next: TCPV4FinRcv, Action: ActionNone, Moved: true},
	{TCPEstablished, EventV6Fin}: {Next: TCPV6FinRcv, Action: ActionNone, Moved: true},

	{TCPV4FinRcv, EventV6Fin}: {Next: TCPV4FinV6FinRcv, Action: ActionSetTCPTransTimer, Moved: true},
	{TCPV6FinRcv, EventV4Fin}: {Next: TCPV4FinV6FinRcv, Action: ActionSetTCPTransTimer, Moved: true},

	{TCPEstablished, EventRst}: {Next: TCPTrans, Action: ActionSetTCPTransTimer, Moved: true},
}

// actionDiscardFlag is folded into a composite action value for the
// single transition that both sets a timer and discards the stored
// SYN (V4_INIT + v6 SYN -> ESTABLISHED); ApplyEvent splits it back out
// so callers only ever see single, composable actions returned via
// the Actions() helper rather than bitwise-decoding TCPAction
// themselves.
const actionDiscardFlag TCPAction = 1 << 7

// ApplyEvent is the pure TCP FSM transition function. state is
// TCPClosed when no session yet exists for the flow.
func ApplyEvent(state TCPState, event TCPEvent) TCPResult {
	if r, ok := tcpTransitions[stateEvent{state, event}]; ok {
		return r
	}
	// Unknown states or impossible transitions do not move the
	// session and do not drop the packet. A TCP RST seen during
	// V6_INIT or V4_INIT falls here, leaving the session unmoved.
	action := ActionNone
	if state == TCPEstablished {
		action = ActionRefreshEstIfEstablished
	}
	return TCPResult{Next: state, Action: action, Moved: false}
}

// Actions splits a composite TCPResult.Action into its component
// actions (today at most two: setting a timer and discarding a stored
// SYN land on the same transition).
func (r TCPResult) Actions() []TCPAction {
	base := r.Action &^ actionDiscardFlag
	var out []TCPAction
	if base != ActionNone {
		out = append(out, base)
	}
	if r.Action&actionDiscardFlag != 0 {
		out = append(out, ActionDiscardStoredSyn)
	}
	return out
}
