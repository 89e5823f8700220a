package handle

import (
	"reflect"
	"testing"
	"time"
)

func TestActivityOrder(t *testing.T) {
	base := time.Unix(1000, 0)
	a := newActivity()

	// touch in random order
	for _, tc := range []struct {
		conn ConnID
		sec  int
	}{
		{5, 50}, {3, 30}, {1, 10}, {4, 40}, {2, 20},
	} {
		a.touch(tc.conn, base.Add(time.Duration(tc.sec)*time.Second))
	}

	if got := a.idleSince(base.Add(35 * time.Second)); !reflect.DeepEqual(got, []ConnID{1, 2, 3}) {
		t.Errorf("idleSince(35s) = %v, want [1 2 3]", got)
	}

	// idleSince keeps the connections
	if a.Len() != 5 {
		t.Errorf("Len() = %d, want 5", a.Len())
	}

	// a touch moves the connection to the end
	a.touch(1, base.Add(60*time.Second))
	if got := a.idleSince(base.Add(35 * time.Second)); !reflect.DeepEqual(got, []ConnID{2, 3}) {
		t.Errorf("idleSince(35s) after touch = %v, want [2 3]", got)
	}
	if got := a.idleSince(base.Add(time.Hour)); !reflect.DeepEqual(got, []ConnID{2, 3, 4, 5, 1}) {
		t.Errorf("idleSince(1h) = %v, want [2 3 4 5 1]", got)
	}
}

func TestActivityForget(t *testing.T) {
	base := time.Unix(1000, 0)
	a := newActivity()

	a.touch(1, base)
	a.touch(2, base.Add(time.Second))
	a.touch(3, base.Add(2*time.Second))

	a.forget(2)
	a.forget(99) // unknown, no-op

	if a.contains(2) {
		t.Error("contains(2) after forget")
	}
	if !a.contains(1) || !a.contains(3) {
		t.Error("forget removed the wrong connection")
	}
	if got := a.idleSince(base.Add(time.Hour)); !reflect.DeepEqual(got, []ConnID{1, 3}) {
		t.Errorf("idleSince = %v, want [1 3]", got)
	}
	if got := a.idleSince(base); len(got) != 0 {
		t.Errorf("idleSince(first touch) = %v, want none", got)
	}
}
