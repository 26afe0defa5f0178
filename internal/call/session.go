// Package call implements the call lifecycle engine: one shared state
// machine for outgoing and incoming calls with pluggable negotiation, a
// direct peer-to-peer mesh or a media relay (SFU). The engine owns at most
// one non-terminal session at a time together with its capture devices and
// transports.
package call

import (
	"errors"
	"fmt"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/implus/implink/internal/bus"
)

// State is a call session lifecycle state.
type State string

const (
	Idle        State = "IDLE"
	Requesting  State = "REQUESTING"
	Ringing     State = "RINGING"
	Negotiating State = "NEGOTIATING"
	Active      State = "ACTIVE"
	Declined    State = "DECLINED"
	Ended       State = "ENDED"
)

// Terminal reports whether the state releases the session's resources.
func (s State) Terminal() bool { return s == Ended || s == Declined }

// ErrTerminal is returned when an operation targets a session that has
// already reached a terminal state.
var ErrTerminal = errors.New("call: session already terminal")

var validTransitions = map[State][]State{
	Idle:        {Requesting, Ringing, Ended},
	Requesting:  {Negotiating, Ended},
	Ringing:     {Negotiating, Declined, Ended},
	Negotiating: {Active, Ended},
	Active:      {Ended},
}

// Mode selects the negotiation strategy.
type Mode string

const (
	ModeMesh  Mode = "mesh"
	ModeRelay Mode = "relay"
)

// Direction of the call attempt.
type Direction string

const (
	Outgoing Direction = "outgoing"
	Incoming Direction = "incoming"
)

// RoomID derives the shared room for a pair of participants. Both ends
// compute the same id without an allocation round-trip because the
// participant ids are sorted first.
func RoomID(a, b string) string {
	ids := []string{a, b}
	sort.Strings(ids)
	return strings.Join(ids, "-")
}

// StateChange is the payload of call.state_changed bus events.
type StateChange struct {
	RoomID string
	From   State
	To     State
	Reason string
}

// Session is one call attempt. It exists from the moment a call is started
// or rings until a terminal state; entering a terminal state runs every
// registered release exactly once.
type Session struct {
	LocalID   string
	RemoteID  string
	RoomID    string
	Mode      Mode
	Video     bool
	Direction Direction

	Remote *RemoteStream

	bus    *bus.Bus
	logger *zap.Logger

	mu       sync.Mutex
	state    State
	reason   string
	releases []func()

	// decision point wiring, set by the engine for incoming sessions
	accept  func() error
	decline func()
}

func newSession(b *bus.Bus, logger *zap.Logger, localID, remoteID string, mode Mode, video bool, dir Direction) *Session {
	return &Session{
		LocalID:   localID,
		RemoteID:  remoteID,
		RoomID:    RoomID(localID, remoteID),
		Mode:      mode,
		Video:     video,
		Direction: dir,
		Remote:    newRemoteStream(),
		bus:       b,
		logger:    logger,
		state:     Idle,
	}
}

// State returns the session's current state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// EndReason returns the reason recorded when the session ended, empty while
// the session is live or when it ended normally.
func (s *Session) EndReason() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reason
}

// addRelease registers cleanup to run on terminal entry. If the session is
// already terminal the cleanup runs immediately.
func (s *Session) addRelease(f func()) {
	s.mu.Lock()
	if s.state.Terminal() {
		s.mu.Unlock()
		f()
		return
	}
	s.releases = append(s.releases, f)
	s.mu.Unlock()
}

// transition moves the session to a new state, running releases when the
// new state is terminal.
func (s *Session) transition(to State, reason string) error {
	s.mu.Lock()
	from := s.state
	if !slices.Contains(validTransitions[from], to) {
		s.mu.Unlock()
		return fmt.Errorf("call: invalid transition from %s to %s", from, to)
	}
	s.state = to
	if reason != "" {
		s.reason = reason
	}
	var releases []func()
	if to.Terminal() {
		releases = s.releases
		s.releases = nil
	}
	s.mu.Unlock()

	// Releases run LIFO so transports close before the capture devices
	// feeding them.
	for i := len(releases) - 1; i >= 0; i-- {
		releases[i]()
	}

	s.logger.Info("call state",
		zap.String("room", s.RoomID),
		zap.String("from", string(from)),
		zap.String("to", string(to)))
	if s.bus != nil {
		s.bus.Publish(bus.Event{
			Kind:      bus.KindCallStateChanged,
			Timestamp: time.Now(),
			Payload:   StateChange{RoomID: s.RoomID, From: from, To: to, Reason: reason},
		})
	}
	return nil
}

// guard reports whether the session is currently in one of the given
// states. Asynchronous negotiation results call it before applying their
// effect; a response that arrives after a terminal state is discarded.
func (s *Session) guard(states ...State) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Contains(states, s.state)
}

// End moves the session to Ended from any non-terminal state. Idempotent:
// a second call finds the session already terminal and does nothing.
func (s *Session) End(reason string) {
	s.mu.Lock()
	if s.state.Terminal() {
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()
	if err := s.transition(Ended, reason); err != nil {
		// A racing End won the transition; nothing left to do.
		return
	}
}

// Accept resolves the ringing decision point and proceeds to negotiation.
// Only valid on an incoming session in Ringing.
func (s *Session) Accept() error {
	s.mu.Lock()
	fn := s.accept
	terminal := s.state.Terminal()
	s.mu.Unlock()
	if terminal {
		return ErrTerminal
	}
	if fn == nil {
		return fmt.Errorf("call: session is not awaiting a decision")
	}
	return fn()
}

// Decline resolves the ringing decision point by rejecting the call.
func (s *Session) Decline() {
	s.mu.Lock()
	fn := s.decline
	s.mu.Unlock()
	if fn != nil {
		fn()
	}
}
