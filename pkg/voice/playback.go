package voice

import (
	"sync"
	"time"
)

// PlaybackSink schedules decoded audio chunks onto an output device with no
// gap and no overlap, even though chunks arrive at irregular intervals
// relative to their playback duration.
//
// It keeps a running "next playback time": each arriving chunk is scheduled
// at max(nextPlaybackTime, now), and nextPlaybackTime advances by the
// chunk's duration. If arrivals fall behind the live clock the schedule
// self-heals by clamping to now.
type PlaybackSink struct {
	dev   PlaybackDevice
	clock Clock

	mu        sync.Mutex
	nextStart time.Time
	inflight  map[*scheduledChunk]struct{}
	stopped   bool
}

type scheduledChunk struct {
	timer Timer
}

// NewPlaybackSink wraps an output device. The schedule starts at the
// clock's current time.
func NewPlaybackSink(dev PlaybackDevice, clock Clock) *PlaybackSink {
	if clock == nil {
		clock = RealClock()
	}
	return &PlaybackSink{
		dev:       dev,
		clock:     clock,
		nextStart: clock.Now(),
		inflight:  make(map[*scheduledChunk]struct{}),
	}
}

// Schedule queues a chunk for gapless playback and returns its start time.
// Ownership of the chunk transfers to the sink.
func (s *PlaybackSink) Schedule(chunk AudioChunk) time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return time.Time{}
	}

	now := s.clock.Now()
	startAt := s.nextStart
	if startAt.Before(now) {
		startAt = now
	}
	s.nextStart = startAt.Add(chunk.Duration)

	sc := &scheduledChunk{}
	samples := chunk.Samples
	sc.timer = s.clock.AfterFunc(startAt.Sub(now), func() {
		s.mu.Lock()
		_, live := s.inflight[sc]
		delete(s.inflight, sc)
		s.mu.Unlock()
		if live {
			s.dev.Play(samples)
		}
	})
	s.inflight[sc] = struct{}{}
	return startAt
}

// Interrupt handles barge-in: every in-flight chunk is cancelled, the
// device buffer is flushed, and the schedule resets to the live clock so
// later chunks start immediately instead of queueing behind stale audio.
func (s *PlaybackSink) Interrupt() {
	s.mu.Lock()
	s.cancelInflightLocked()
	s.nextStart = s.clock.Now()
	stopped := s.stopped
	s.mu.Unlock()
	if !stopped {
		s.dev.Flush()
	}
}

// Stop cancels all scheduled playback unconditionally. The sink accepts no
// further chunks afterwards.
func (s *PlaybackSink) Stop() {
	s.mu.Lock()
	alreadyStopped := s.stopped
	s.cancelInflightLocked()
	s.stopped = true
	s.mu.Unlock()
	if !alreadyStopped {
		s.dev.Flush()
	}
}

func (s *PlaybackSink) cancelInflightLocked() {
	for sc := range s.inflight {
		if sc.timer != nil {
			sc.timer.Stop()
		}
	}
	s.inflight = make(map[*scheduledChunk]struct{})
}

// Pending reports the number of chunks scheduled but not yet played.
func (s *PlaybackSink) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.inflight)
}

func (s *PlaybackSink) nextPlaybackTime() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.nextStart
}
