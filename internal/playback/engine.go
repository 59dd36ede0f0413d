// Package playback owns the single server-wide "now playing" slot.
//
// The engine is a pull interface: Play decodes a clip and arms the
// session, then the caller drains 20 ms Opus frames with NextFrame at
// its own pace. A new Play always interrupts whatever is active; there
// is no queue.
package playback

import (
	"errors"
	"fmt"
	"sync"

	"github.com/hraban/opus"

	"github.com/clipcast/clipcast/internal/codec"
)

type State int

const (
	StateIdle State = iota
	StateLoading
	StatePlaying
	StateError
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateLoading:
		return "loading"
	case StatePlaying:
		return "playing"
	case StateError:
		return "error"
	}
	return "unknown"
}

// ErrInterrupted is returned from Play when a newer Play superseded it
// while its clip was still decoding.
var ErrInterrupted = errors.New("playback superseded by a newer play request")

// maxPacket is the largest encoded frame libopus may produce.
const maxPacket = 4000

// Session describes who is playing what.
type Session struct {
	Client uint32
	Owner  string
	Name   string
}

// Engine is the singleton playback state machine. All access is
// serialized through its mutex; the Opus encoder in particular must
// never encode concurrently with being replaced.
type Engine struct {
	mu         sync.Mutex
	state      State
	session    Session
	generation uint64

	pcm    []int16
	cursor int
	seq    uint32
	enc    *opus.Encoder
}

func NewEngine() *Engine {
	return &Engine{state: StateIdle}
}

// Play decodes the clip at path and begins streaming it, interrupting
// any active or still-loading session. The encoder is created fresh
// per clip: carried-over encoder state corrupts the first frames of
// the next stream.
func (e *Engine) Play(client uint32, owner, name, path string) error {
	e.mu.Lock()
	e.generation++
	gen := e.generation
	e.releaseLocked()
	e.state = StateLoading
	e.session = Session{Client: client, Owner: owner, Name: name}
	e.mu.Unlock()

	pcm, err := codec.Decode(path)

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.generation != gen {
		return ErrInterrupted
	}
	if err != nil {
		e.state = StateIdle
		return fmt.Errorf("failed to decode clip %q: %w", name, err)
	}

	enc, err := opus.NewEncoder(codec.TargetRate, 1, opus.AppAudio)
	if err != nil {
		e.state = StateIdle
		return fmt.Errorf("failed to create opus encoder: %w", err)
	}

	e.pcm = pcm
	e.cursor = 0
	e.seq = 0
	e.enc = enc
	e.state = StatePlaying
	return nil
}

// NextFrame encodes and returns the next 20 ms frame along with its
// sequence number. The final partial frame is zero-padded. Returns
// ok=false and transitions to idle once the clip is exhausted. The
// caller is responsible for pacing calls at real time.
func (e *Engine) NextFrame() (data []byte, seq uint32, ok bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.state != StatePlaying {
		return nil, 0, false
	}
	if e.cursor >= len(e.pcm) {
		e.releaseLocked()
		e.state = StateIdle
		return nil, 0, false
	}

	frame := make([]int16, codec.FrameSamples)
	n := copy(frame, e.pcm[e.cursor:])
	e.cursor += n

	buf := make([]byte, maxPacket)
	written, err := e.enc.Encode(frame, buf)
	if err != nil {
		e.releaseLocked()
		e.state = StateError
		return nil, 0, false
	}

	seq = e.seq
	e.seq++
	return buf[:written], seq, true
}

// Stop frees the PCM buffer and forces idle. Safe to call in any state.
func (e *Engine) Stop() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.generation++
	e.releaseLocked()
	e.state = StateIdle
}

// State reports the current state.
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// NowPlaying returns the active session, if any.
func (e *Engine) NowPlaying() (Session, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state != StatePlaying {
		return Session{}, false
	}
	return e.session, true
}

func (e *Engine) releaseLocked() {
	e.pcm = nil
	e.cursor = 0
	e.enc = nil
}
