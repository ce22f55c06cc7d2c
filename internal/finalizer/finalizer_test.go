package finalizer

import "testing"

func TestSingleHandleResolvesImmediately(t *testing.T) {
	h := NewHandle()
	h.Release(Delivered)

	select {
	case <-h.Node().Done():
	default:
		t.Fatal("expected Done() to be closed after releasing the only handle")
	}
	if got := h.Node().Status(); got != Delivered {
		t.Errorf("status = %s, want %s", got, Delivered)
	}
}

func TestCloneRequiresAllReleasesBeforeResolving(t *testing.T) {
	h := NewHandle()
	clone := h.Clone()

	h.Release(Delivered)

	select {
	case <-h.Node().Done():
		t.Fatal("expected Done() to remain open while a clone is still live")
	default:
	}

	clone.Release(Errored)

	select {
	case <-h.Node().Done():
	default:
		t.Fatal("expected Done() to close once every clone released")
	}

	if got := h.Node().Status(); got != Errored {
		t.Errorf("status = %s, want %s (Errored is stronger than Delivered)", got, Errored)
	}
}

func TestLatticeStrongestWins(t *testing.T) {
	cases := []struct {
		a, b Status
		want Status
	}{
		{Delivered, Errored, Errored},
		{Errored, Rejected, Rejected},
		{Rejected, Dropped, Dropped},
		{Dropped, Delivered, Dropped},
		{Delivered, Delivered, Delivered},
	}

	for _, c := range cases {
		if got := combine(c.a, c.b); got != c.want {
			t.Errorf("combine(%s, %s) = %s, want %s", c.a, c.b, got, c.want)
		}
	}
}

func TestZeroHandleIsNoop(t *testing.T) {
	var h Handle
	if !h.IsZero() {
		t.Fatal("expected zero-value Handle to report IsZero")
	}
	// Must not panic.
	h.Release(Delivered)
	clone := h.Clone()
	if !clone.IsZero() {
		t.Fatal("expected clone of a zero handle to remain zero")
	}
}
