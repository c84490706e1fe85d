package fault

import (
	"errors"
	"fmt"
	"os"
	"testing"
)

func TestKindOf_Classified(t *testing.T) {
	err := New(KindTimeout, "seat.wait", errors.New("deadline exceeded"))
	if got := KindOf(err); got != KindTimeout {
		t.Errorf("KindOf() = %q, want %q", got, KindTimeout)
	}
}

func TestKindOf_Wrapped(t *testing.T) {
	inner := New(KindCircuitOpen, "router.attempt", nil)
	wrapped := fmt.Errorf("seat 3 failed: %w", inner)
	if got := KindOf(wrapped); got != KindCircuitOpen {
		t.Errorf("KindOf(wrapped) = %q, want %q", got, KindCircuitOpen)
	}
}

func TestKindOf_UnknownMapsToRuntimeIO(t *testing.T) {
	if got := KindOf(os.ErrPermission); got != KindRuntimeIO {
		t.Errorf("KindOf(os.ErrPermission) = %q, want %q", got, KindRuntimeIO)
	}
}

func TestKindOf_Nil(t *testing.T) {
	if got := KindOf(nil); got != "" {
		t.Errorf("KindOf(nil) = %q, want empty", got)
	}
}

func TestIs_MatchesByKind(t *testing.T) {
	err := Errorf(KindDisallowedPath, "patch.apply", "path %q escapes repo", "../etc")
	if !errors.Is(err, New(KindDisallowedPath, "", nil)) {
		t.Error("errors.Is should match same-kind fault errors")
	}
	if errors.Is(err, New(KindTimeout, "", nil)) {
		t.Error("errors.Is should not match different kinds")
	}
}

func TestError_Strings(t *testing.T) {
	cases := []struct {
		err  *Error
		want string
	}{
		{New(KindStopRequested, "", nil), "stop_requested"},
		{New(KindTimeout, "seat.wait", nil), "seat.wait: timeout"},
		{New(KindRuntimeIO, "rundir.write", errors.New("disk full")), "rundir.write: runtime_io: disk full"},
	}
	for _, c := range cases {
		if got := c.err.Error(); got != c.want {
			t.Errorf("Error() = %q, want %q", got, c.want)
		}
	}
}
