// Package notify abstracts user-facing alerts so the sync and call engines
// never talk to an audio device or window system directly. The daemon wires
// a BusSink; frontends subscribe to the notify.* namespace and render the
// cues however they like.
package notify

import (
	"sync"

	"github.com/implus/implink/internal/bus"
)

// Sound identifies a notification sound cue.
type Sound string

const (
	SoundMessage  Sound = "message"
	SoundRingtone Sound = "ringtone"
)

// Banner is a transient on-screen alert.
type Banner struct {
	Title string
	Body  string
}

// Sink receives notification cues. Play fires a one-shot sound. StartRing
// begins the looping call ringtone and StopRing ends it; StopRing is safe
// to call when no ringtone is playing.
type Sink interface {
	Play(s Sound)
	StartRing()
	StopRing()
	Show(b Banner)
}

// BusSink publishes cues on the event bus under the notify.* namespace.
type BusSink struct {
	bus *bus.Bus

	mu      sync.Mutex
	ringing bool
}

// NewBusSink returns a Sink backed by b.
func NewBusSink(b *bus.Bus) *BusSink {
	return &BusSink{bus: b}
}

// RingState is the payload of notify.sound events for the ringtone loop.
type RingState struct {
	Looping bool
}

func (s *BusSink) Play(sound Sound) {
	s.bus.Emit(bus.KindNotifySound, sound)
}

func (s *BusSink) StartRing() {
	s.mu.Lock()
	already := s.ringing
	s.ringing = true
	s.mu.Unlock()
	if already {
		return
	}
	s.bus.Emit(bus.KindNotifySound, RingState{Looping: true})
}

func (s *BusSink) StopRing() {
	s.mu.Lock()
	was := s.ringing
	s.ringing = false
	s.mu.Unlock()
	if !was {
		return
	}
	s.bus.Emit(bus.KindNotifySound, RingState{Looping: false})
}

func (s *BusSink) Show(b Banner) {
	s.bus.Emit(bus.KindNotifyBanner, b)
}

// NopSink discards all cues. Used in tests and headless runs.
type NopSink struct{}

func (NopSink) Play(Sound)  {}
func (NopSink) StartRing()  {}
func (NopSink) StopRing()   {}
func (NopSink) Show(Banner) {}
