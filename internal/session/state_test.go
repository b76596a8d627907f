package session

import "testing"

func TestState_String(t *testing.T) {
	t.Parallel()

	tests := []struct {
		state State
		want  string
	}{
		{StateConnecting, "connecting"},
		{StateConnected, "connected"},
		{StateClosed, "closed"},
		{StateErrored, "errored"},
		{State(42), "unknown"},
	}
	for _, tc := range tests {
		if got := tc.state.String(); got != tc.want {
			t.Errorf("State(%d).String() = %q, want %q", int(tc.state), got, tc.want)
		}
	}
}

func TestState_Terminal(t *testing.T) {
	t.Parallel()

	for _, s := range []State{StateConnecting, StateConnected} {
		if s.Terminal() {
			t.Errorf("%v.Terminal() = true, want false", s)
		}
	}
	for _, s := range []State{StateClosed, StateErrored} {
		if !s.Terminal() {
			t.Errorf("%v.Terminal() = false, want true", s)
		}
	}
}

func TestNext_TransitionTable(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		from   State
		ev     eventKind
		want   State
		wantOK bool
	}{
		{"open", StateConnecting, evOpen, StateConnected, true},
		{"device failure before open", StateConnecting, evDeviceFailed, StateErrored, true},
		{"handshake failure", StateConnecting, evHandshakeFailed, StateErrored, true},
		{"error before open", StateConnecting, evTransportError, StateErrored, true},
		{"close before open", StateConnecting, evUserClose, StateClosed, true},
		{"transport error after open", StateConnected, evTransportError, StateErrored, true},
		{"device lost after open", StateConnected, evDeviceFailed, StateErrored, true},
		{"remote close", StateConnected, evRemoteClose, StateClosed, true},
		{"user close", StateConnected, evUserClose, StateClosed, true},
		{"duplicate open", StateConnected, evOpen, StateConnected, false},
		{"closed ignores error", StateClosed, evTransportError, StateClosed, false},
		{"closed ignores open", StateClosed, evOpen, StateClosed, false},
		{"errored ignores close", StateErrored, evUserClose, StateErrored, false},
		{"errored ignores remote close", StateErrored, evRemoteClose, StateErrored, false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got, ok := next(tc.from, tc.ev)
			if got != tc.want || ok != tc.wantOK {
				t.Errorf("next(%v, %d) = (%v, %v), want (%v, %v)", tc.from, tc.ev, got, ok, tc.want, tc.wantOK)
			}
		})
	}
}
