// Package devices provides the system microphone and speaker backends
// for voice sessions, built on malgo for capture and oto for playback.
package devices

import (
	"fmt"
	"sync"

	"github.com/ebitengine/oto/v3"
	"github.com/gen2brain/malgo"

	"github.com/omnitech-labs/omnidial/pkg/voice"
)

// Provider opens real audio devices. Contexts are initialized lazily on
// first open and shared across sessions; oto in particular allows only
// one context per process.
type Provider struct {
	mu       sync.Mutex
	malgoCtx *malgo.AllocatedContext
	otoCtx   *oto.Context
	otoRate  int
}

// NewProvider builds a provider with uninitialized device contexts.
func NewProvider() *Provider {
	return &Provider{}
}

// OpenCapture opens the default microphone at the given rate, delivering
// frames of frameSamples samples.
func (p *Provider) OpenCapture(sampleRateHz, frameSamples int) (voice.CaptureDevice, error) {
	ctx, err := p.captureContext()
	if err != nil {
		return nil, err
	}
	return newMicCapture(ctx.Context, sampleRateHz, frameSamples)
}

// OpenPlayback opens the default speaker at the given rate.
func (p *Provider) OpenPlayback(sampleRateHz int) (voice.PlaybackDevice, error) {
	ctx, err := p.playbackContext(sampleRateHz)
	if err != nil {
		return nil, err
	}
	return newSpeakerPlayback(ctx), nil
}

// Close releases the shared device contexts. Call after every session
// using this provider has stopped.
func (p *Provider) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.malgoCtx != nil {
		_ = p.malgoCtx.Uninit()
		p.malgoCtx.Free()
		p.malgoCtx = nil
	}
	// oto contexts cannot be torn down; drop the reference.
	p.otoCtx = nil
	return nil
}

func (p *Provider) captureContext() (*malgo.AllocatedContext, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.malgoCtx != nil {
		return p.malgoCtx, nil
	}
	cfg := malgo.ContextConfig{}
	cfg.ThreadPriority = malgo.ThreadPriorityRealtime
	ctx, err := malgo.InitContext(nil, cfg, nil)
	if err != nil {
		return nil, fmt.Errorf("init capture context: %w", err)
	}
	p.malgoCtx = ctx
	return ctx, nil
}

func (p *Provider) playbackContext(sampleRateHz int) (*oto.Context, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.otoCtx != nil {
		if p.otoRate != sampleRateHz {
			return nil, fmt.Errorf("playback context already open at %d Hz, requested %d Hz", p.otoRate, sampleRateHz)
		}
		return p.otoCtx, nil
	}
	// 16-bit mono: bytes = 2 * rate * seconds, so rate/5 bytes is a
	// 100ms buffer.
	opts := &oto.NewContextOptions{
		SampleRate:   sampleRateHz,
		ChannelCount: 1,
		Format:       oto.FormatSignedInt16LE,
		BufferSize:   sampleRateHz / 5,
	}
	ctx, ready, err := oto.NewContext(opts)
	if err != nil {
		return nil, fmt.Errorf("init playback context: %w", err)
	}
	<-ready
	p.otoCtx = ctx
	p.otoRate = sampleRateHz
	return ctx, nil
}
