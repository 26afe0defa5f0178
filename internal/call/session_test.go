package call

import (
	"testing"

	"go.uber.org/zap"

	"github.com/implus/implink/internal/bus"
)

func TestRoomIDSymmetric(t *testing.T) {
	if RoomID("u1", "u2") != RoomID("u2", "u1") {
		t.Errorf("RoomID not symmetric: %q vs %q", RoomID("u1", "u2"), RoomID("u2", "u1"))
	}
	if got := RoomID("bob", "alice"); got != "alice-bob" {
		t.Errorf("RoomID = %q, want alice-bob", got)
	}
}

func testSession(t *testing.T) *Session {
	t.Helper()
	return newSession(bus.New(), zap.NewNop(), "me", "u2", ModeMesh, true, Outgoing)
}

func walkToNegotiating(t *testing.T, s *Session) {
	t.Helper()
	if err := s.transition(Requesting, ""); err != nil {
		t.Fatal(err)
	}
	if err := s.transition(Negotiating, ""); err != nil {
		t.Fatal(err)
	}
}

func TestTerminalReleasesRunOnce(t *testing.T) {
	s := testSession(t)
	walkToNegotiating(t, s)

	var released int
	s.addRelease(func() { released++ })

	s.End("done")
	if s.State() != Ended {
		t.Fatalf("state = %s", s.State())
	}
	if released != 1 {
		t.Fatalf("released = %d", released)
	}

	// Second End is a no-op: cleanup already ran.
	s.End("again")
	if released != 1 {
		t.Errorf("released = %d after second End", released)
	}
	if s.EndReason() != "done" {
		t.Errorf("reason = %q, want the first reason", s.EndReason())
	}
}

func TestReleasesRunInReverseOrder(t *testing.T) {
	s := testSession(t)
	walkToNegotiating(t, s)

	var order []string
	s.addRelease(func() { order = append(order, "capture") })
	s.addRelease(func() { order = append(order, "transport") })

	s.End("")
	if len(order) != 2 || order[0] != "transport" || order[1] != "capture" {
		t.Errorf("release order = %v", order)
	}
}

func TestTerminalStateIsImmutable(t *testing.T) {
	s := testSession(t)
	walkToNegotiating(t, s)
	s.End("")

	if err := s.transition(Active, ""); err == nil {
		t.Error("transition out of ENDED succeeded")
	}
	if s.State() != Ended {
		t.Errorf("state = %s", s.State())
	}
}

func TestAddReleaseAfterTerminalRunsImmediately(t *testing.T) {
	s := testSession(t)
	walkToNegotiating(t, s)
	s.End("")

	ran := false
	s.addRelease(func() { ran = true })
	if !ran {
		t.Error("release added after terminal entry never ran")
	}
}

func TestGuardDiscardsStaleResults(t *testing.T) {
	s := testSession(t)
	walkToNegotiating(t, s)

	if !s.guard(Negotiating) {
		t.Fatal("guard(Negotiating) = false while negotiating")
	}
	s.End("")
	if s.guard(Negotiating, Active) {
		t.Error("guard passed after terminal state; stale result would apply")
	}
}

func TestInvalidTransitionRejected(t *testing.T) {
	s := testSession(t)
	if err := s.transition(Active, ""); err == nil {
		t.Error("IDLE -> ACTIVE succeeded")
	}
	if s.State() != Idle {
		t.Errorf("state = %s after rejected transition", s.State())
	}
}

func TestStateChangePublished(t *testing.T) {
	b := bus.New()
	ch, unsub := b.Subscribe("call.", 8)
	defer unsub()

	s := newSession(b, zap.NewNop(), "me", "u2", ModeMesh, false, Outgoing)
	if err := s.transition(Requesting, ""); err != nil {
		t.Fatal(err)
	}

	evt := <-ch
	change, ok := evt.Payload.(StateChange)
	if !ok {
		t.Fatalf("payload = %T", evt.Payload)
	}
	if change.From != Idle || change.To != Requesting || change.RoomID != RoomID("me", "u2") {
		t.Errorf("change = %+v", change)
	}
}

func TestRemoteStreamAttachOnce(t *testing.T) {
	r := newRemoteStream()
	if !r.attach(RemoteTrack{ID: "c1", Kind: "video"}) {
		t.Fatal("first attach refused")
	}
	if r.attach(RemoteTrack{ID: "c1", Kind: "video"}) {
		t.Error("duplicate attach accepted")
	}
	if r.Len() != 1 {
		t.Errorf("len = %d", r.Len())
	}

	r.attach(RemoteTrack{ID: "c2", ProducerID: "p2", Kind: "audio"})
	if tracks := r.Tracks(); len(tracks) != 2 || tracks[0].ID != "c1" || tracks[1].ID != "c2" {
		t.Errorf("tracks = %+v", tracks)
	}
}
