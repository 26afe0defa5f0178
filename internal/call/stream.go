package call

import (
	"encoding/json"
	"sync"

	"github.com/pion/webrtc/v4"
)

// RemoteTrack is one attached remote media track. Mesh sessions carry the
// pion track; relay sessions carry the consumer's RTP parameters and the
// relay-side ids with a nil Track, because the relay media plane is not
// terminated in this process. A renderer consuming relay tracks receives
// identity and parameters, not packets.
type RemoteTrack struct {
	ID            string // consumer id (relay) or track id (mesh)
	ProducerID    string // relay only
	Kind          string // "audio" | "video"
	Track         *webrtc.TrackRemote
	RTPParameters json.RawMessage
}

// RemoteStream collects the remote tracks of one session. Tracks attach at
// most once per id; parallel consume round-trips resolving out of order
// attach independently without duplicates.
type RemoteStream struct {
	mu     sync.Mutex
	tracks map[string]RemoteTrack
	order  []string
}

func newRemoteStream() *RemoteStream {
	return &RemoteStream{tracks: make(map[string]RemoteTrack)}
}

// attach adds a track, reporting false when the id is already attached.
func (r *RemoteStream) attach(t RemoteTrack) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.tracks[t.ID]; ok {
		return false
	}
	r.tracks[t.ID] = t
	r.order = append(r.order, t.ID)
	return true
}

// Tracks returns the attached tracks in attach order.
func (r *RemoteStream) Tracks() []RemoteTrack {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]RemoteTrack, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.tracks[id])
	}
	return out
}

// Len returns the number of attached tracks.
func (r *RemoteStream) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.tracks)
}
