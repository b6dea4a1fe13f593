package devices

import (
	"sync"

	"github.com/ebitengine/oto/v3"

	"github.com/omnitech-labs/omnidial/pkg/voice"
)

// speakerPlayback feeds PCM16 to the speaker through an oto player. The
// player pulls from an internal buffer via Read; playback starts on the
// first Play and stops when the buffer is flushed.
type speakerPlayback struct {
	otoCtx *oto.Context

	mu      sync.Mutex
	cond    *sync.Cond
	player  *oto.Player
	buf     []byte
	playing bool
	closed  bool
}

func newSpeakerPlayback(ctx *oto.Context) *speakerPlayback {
	s := &speakerPlayback{
		otoCtx: ctx,
		buf:    make([]byte, 0, 1<<16),
	}
	s.cond = sync.NewCond(&s.mu)
	return s
}

func (s *speakerPlayback) Play(samples []float32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.buf = append(s.buf, voice.EncodePCM16(samples)...)
	if !s.playing {
		s.playing = true
		s.player = s.otoCtx.NewPlayer(s)
		s.player.Play()
	}
	s.cond.Signal()
}

// Read implements io.Reader for the oto player pull loop.
func (s *speakerPlayback) Read(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for len(s.buf) == 0 && !s.closed {
		s.cond.Wait()
	}

	if s.closed && len(s.buf) == 0 {
		// Silence lets oto drain without an error pop.
		for i := range p {
			p[i] = 0
		}
		return len(p), nil
	}

	n := copy(p, s.buf)
	s.buf = s.buf[n:]
	return n, nil
}

// Flush discards buffered audio and resets the player so stale speech
// never overlaps what comes next.
func (s *speakerPlayback) Flush() {
	s.mu.Lock()
	s.buf = s.buf[:0]
	if s.player != nil && s.playing {
		s.playing = false
		player := s.player
		s.player = nil
		s.mu.Unlock()

		player.Pause()
		player.Reset()
		player.Close()
		return
	}
	s.mu.Unlock()
}

func (s *speakerPlayback) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.cond.Broadcast()
	player := s.player
	s.player = nil
	s.mu.Unlock()

	if player != nil {
		player.Close()
	}
	return nil
}
