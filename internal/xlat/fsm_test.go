package xlat

import "testing"

func TestTCPStateString(t *testing.T) {
	t.Parallel()

	cases := map[TCPState]string{
		TCPClosed:         "CLOSED",
		TCPV4Init:         "V4_INIT",
		TCPV6Init:         "V6_INIT",
		TCPEstablished:    "ESTABLISHED",
		TCPV4FinRcv:       "V4_FIN_RCV",
		TCPV6FinRcv:       "V6_FIN_RCV",
		TCPV4FinV6FinRcv:  "V4_FIN_V6_FIN_RCV",
		TCPTrans:          "TRANS",
	}
	for state, want := range cases {
		if got := state.String(); got != want {
			t.Errorf("%d.String() = %q, want %q", state, got, want)
		}
	}
}

func TestApplyEventExplicitTransitions(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name  string
		state TCPState
		event TCPEvent
		want  TCPResult
	}{
		{"closed+v6syn", TCPClosed, EventV6Syn, TCPResult{Next: TCPV6Init, Action: ActionSetTCPTransTimer, Moved: true}},
		{"closed+v4syn", TCPClosed, EventV4Syn, TCPResult{Next: TCPV4Init, Action: ActionSetTCPIncomingSynTimer, Moved: true}},
		{"v6init+v4syn", TCPV6Init, EventV4Syn, TCPResult{Next: TCPEstablished, Action: ActionSetTCPEstTimer, Moved: true}},
		{"v4init+v6syn", TCPV4Init, EventV6Syn, TCPResult{Next: TCPEstablished, Action: ActionSetTCPEstTimer | actionDiscardFlag, Moved: true}},
		{"est+v4fin", TCPEstablished, EventV4Fin, TCPResult{Next: TCPV4FinRcv, Action: ActionNone, Moved: true}},
		{"est+v6fin", TCPEstablished, EventV6Fin, TCPResult{Next: TCPV6FinRcv, Action: ActionNone, Moved: true}},
		{"v4finrcv+v6fin", TCPV4FinRcv, EventV6Fin, TCPResult{Next: TCPV4FinV6FinRcv, Action: ActionSetTCPTransTimer, Moved: true}},
		{"v6finrcv+v4fin", TCPV6FinRcv, EventV4Fin, TCPResult{Next: TCPV4FinV6FinRcv, Action: ActionSetTCPTransTimer, Moved: true}},
		{"est+rst", TCPEstablished, EventRst, TCPResult{Next: TCPTrans, Action: ActionSetTCPTransTimer, Moved: true}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := ApplyEvent(tc.state, tc.event)
			if got != tc.want {
				t.Errorf("ApplyEvent(%v, %v) = %+v, want %+v", tc.state, tc.event, got, tc.want)
			}
		})
	}
}

func TestApplyEventCompositeActionSplits(t *testing.T) {
	t.Parallel()

	r := ApplyEvent(TCPV4Init, EventV6Syn)
	actions := r.Actions()
	if len(actions) != 2 {
		t.Fatalf("Actions() = %v, want 2 entries", actions)
	}
	if actions[0] != ActionSetTCPEstTimer || actions[1] != ActionDiscardStoredSyn {
		t.Errorf("Actions() = %v, want [ActionSetTCPEstTimer ActionDiscardStoredSyn]", actions)
	}
}

func TestApplyEventUnlistedTransitionUnmoved(t *testing.T) {
	t.Parallel()

	// RST seen during V6_INIT is not in the table: session unmoved.
	r := ApplyEvent(TCPV6Init, EventRst)
	if r.Moved {
		t.Error("Moved = true for unlisted transition")
	}
	if r.Next != TCPV6Init {
		t.Errorf("Next = %v, want unchanged TCPV6Init", r.Next)
	}
	if r.Action != ActionNone {
		t.Errorf("Action = %v, want ActionNone (state is not ESTABLISHED)", r.Action)
	}
}

func TestApplyEventEstablishedRefreshOnUnlistedEvent(t *testing.T) {
	t.Parallel()

	r := ApplyEvent(TCPEstablished, EventOther)
	if r.Moved {
		t.Error("Moved = true, want false")
	}
	if r.Next != TCPEstablished {
		t.Errorf("Next = %v, want TCPEstablished", r.Next)
	}
	if r.Action != ActionRefreshEstIfEstablished {
		t.Errorf("Action = %v, want ActionRefreshEstIfEstablished", r.Action)
	}
	if actions := r.Actions(); len(actions) != 1 || actions[0] != ActionRefreshEstIfEstablished {
		t.Errorf("Actions() = %v, want [ActionRefreshEstIfEstablished]", actions)
	}
}

func TestTCPResultActionsNoneIsEmpty(t *testing.T) {
	t.Parallel()

	r := TCPResult{Next: TCPClosed, Action: ActionNone}
	if actions := r.Actions(); len(actions) != 0 {
		t.Errorf("Actions() = %v, want empty", actions)
	}
}
