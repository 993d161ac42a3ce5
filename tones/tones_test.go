/* SPDX-License-Identifier: MPL-2.0
 * Copyright 2025 Tejus Pratap <tejzpr@gmail.com>
 *
 * See CONTRIBUTORS.md for full contributor list.
 */

package tones

import (
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tejzpr/crm-softphone/media"
)

type recorder struct {
	mu      sync.Mutex
	frames  int
	samples []int16
}

func (r *recorder) WriteSamples(s []int16) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.frames++
	if len(r.samples) < 4*media.FrameSamples {
		r.samples = append(r.samples, s...)
	}
	return nil
}

func (r *recorder) frameCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.frames
}

func fastConfig() *Config {
	cfg := DefaultConfig()
	cfg.FrameInterval = time.Millisecond
	return cfg
}

func TestStartStop(t *testing.T) {
	out := &recorder{}
	g := NewGenerator(out, fastConfig(), nil)

	g.Start(Ringback)
	kind, ok := g.Active()
	require.True(t, ok)
	assert.Equal(t, Ringback, kind)
	assert.Eventually(t, func() bool { return out.frameCount() > 2 }, time.Second, time.Millisecond)

	g.Stop()
	_, ok = g.Active()
	assert.False(t, ok)

	frames := out.frameCount()
	time.Sleep(10 * time.Millisecond)
	assert.Equal(t, frames, out.frameCount())

	// Stopping twice is harmless.
	g.Stop()
}

func TestStartStopsPrevious(t *testing.T) {
	g := NewGenerator(&recorder{}, fastConfig(), nil)

	g.Start(Ringback)
	g.mu.Lock()
	first := g.active
	g.mu.Unlock()

	g.Start(Ring)
	select {
	case <-first.done:
	default:
		t.Fatal("previous tone still running")
	}

	kind, ok := g.Active()
	require.True(t, ok)
	assert.Equal(t, Ring, kind)
	g.Stop()
}

func TestBusyStopsByItself(t *testing.T) {
	cfg := fastConfig()
	cfg.BusyCycles = 1
	out := &recorder{}
	g := NewGenerator(out, cfg, nil)

	g.Start(Busy)
	assert.Eventually(t, func() bool {
		_, ok := g.Active()
		return !ok
	}, 3*time.Second, 5*time.Millisecond)
	assert.Equal(t, media.SampleRate/media.FrameSamples, out.frameCount())
}

func TestAssetPlayback(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ringback.wav")
	wav, err := media.NewWAVFileOutput(path)
	require.NoError(t, err)
	asset := make([]int16, media.FrameSamples)
	for i := range asset {
		asset[i] = int16(i * 10)
	}
	require.NoError(t, wav.WriteSamples(asset))
	require.NoError(t, wav.Close())

	cfg := fastConfig()
	cfg.RingbackPath = path
	out := &recorder{}
	g := NewGenerator(out, cfg, nil)

	g.Start(Ringback)
	assert.Eventually(t, func() bool { return out.frameCount() >= 2 }, time.Second, time.Millisecond)
	g.Stop()

	out.mu.Lock()
	defer out.mu.Unlock()
	assert.Equal(t, asset, out.samples[:media.FrameSamples])
	assert.Equal(t, asset, out.samples[media.FrameSamples:2*media.FrameSamples])
}

func TestUnreadableAssetFallsBack(t *testing.T) {
	cfg := fastConfig()
	cfg.RingPath = filepath.Join(t.TempDir(), "missing.wav")
	g := NewGenerator(&recorder{}, cfg, nil)

	_, err := g.asset(Ring)
	assert.Error(t, err)
	_, err = g.asset(Busy)
	assert.ErrorIs(t, err, ErrNoAsset)

	_, isOscillator := g.source(Ring).(*oscillator)
	assert.True(t, isOscillator)
}

func TestOscillatorCadence(t *testing.T) {
	osc := newOscillator(400, 0.3, cadenceFor(Ringback))
	frame := make([]int16, media.FrameSamples)

	// First frame ramps in from silence.
	require.True(t, osc.next(frame))
	assert.Zero(t, frame[0])

	var peak int16
	for i := 1; i < media.SampleRate/media.FrameSamples; i++ {
		require.True(t, osc.next(frame))
		for _, s := range frame {
			if s > peak {
				peak = s
			}
		}
	}
	assert.InDelta(t, 0.3*32767, peak, 100)

	// The next four seconds are silent.
	for i := 0; i < 4*media.SampleRate/media.FrameSamples; i++ {
		require.True(t, osc.next(frame))
		for _, s := range frame {
			require.Zero(t, s)
		}
	}
	assert.Zero(t, osc.gain(5*media.SampleRate))
	assert.Equal(t, 1.0, osc.gain(5*media.SampleRate+media.SampleRate/2))
}

func TestKindString(t *testing.T) {
	assert.Equal(t, "ring", Ring.String())
	assert.Equal(t, "ringback", Ringback.String())
	assert.Equal(t, "busy", Busy.String())
	assert.Equal(t, "tone(9)", Kind(9).String())
}
