/* SPDX-License-Identifier: MPL-2.0
 * Copyright 2025 Tejus Pratap <tejzpr@gmail.com>
 *
 * See CONTRIBUTORS.md for full contributor list.
 */

// Package tones plays local-only call feedback: ring, ringback and busy.
// Tones never reach the remote party.
package tones

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/tejzpr/crm-softphone/media"
)

// ErrNoAsset is returned when a tone has no playable WAV asset
var ErrNoAsset = errors.New("no playable tone asset")

// Kind selects a tone
type Kind int

const (
	Ring Kind = iota
	Ringback
	Busy
)

func (k Kind) String() string {
	switch k {
	case Ring:
		return "ring"
	case Ringback:
		return "ringback"
	case Busy:
		return "busy"
	default:
		return fmt.Sprintf("tone(%d)", int(k))
	}
}

// Output receives tone audio as 16-bit PCM at 8 kHz
type Output interface {
	WriteSamples(samples []int16) error
}

// Config holds the configuration for the tone generator
type Config struct {
	// RingPath, RingbackPath and BusyPath are optional WAV assets
	// (mono, 8 kHz). A missing or unreadable asset falls back to the
	// oscillator.
	RingPath     string
	RingbackPath string
	BusyPath     string

	// FrequencyHz is the oscillator pitch
	FrequencyHz float64

	// Amplitude is the oscillator peak as a fraction of full scale
	Amplitude float64

	// BusyCycles is how many on/off cycles the busy tone plays before
	// stopping by itself
	BusyCycles int

	// FrameInterval paces output frames of media.FrameSamples samples
	FrameInterval time.Duration
}

// DefaultConfig returns the default configuration
func DefaultConfig() *Config {
	return &Config{
		FrequencyHz:   400,
		Amplitude:     0.3,
		BusyCycles:    4,
		FrameInterval: 20 * time.Millisecond,
	}
}

// Generator plays at most one tone at a time
type Generator struct {
	// startMu serializes Start and Stop
	startMu sync.Mutex

	mu     sync.Mutex
	active *playback
	assets map[Kind][]int16

	out    Output
	config *Config
	log    logrus.FieldLogger
}

type playback struct {
	kind Kind
	stop chan struct{}
	done chan struct{}
}

// NewGenerator creates a generator writing to out
func NewGenerator(out Output, config *Config, logger logrus.FieldLogger) *Generator {
	if config == nil {
		config = DefaultConfig()
	}
	if out == nil {
		out = media.DiscardOutput{}
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Generator{
		assets: make(map[Kind][]int16),
		out:    out,
		config: config,
		log:    logger.WithField("component", "tones"),
	}
}

// Start plays kind, stopping any active tone first
func (g *Generator) Start(kind Kind) {
	g.startMu.Lock()
	defer g.startMu.Unlock()

	g.stopActive()

	src := g.source(kind)
	pb := &playback{
		kind: kind,
		stop: make(chan struct{}),
		done: make(chan struct{}),
	}
	g.mu.Lock()
	g.active = pb
	g.mu.Unlock()

	g.log.WithField("tone", kind).Debug("tone started")
	go g.play(pb, src)
}

// Stop silences the active tone and waits for its goroutine to exit
func (g *Generator) Stop() {
	g.startMu.Lock()
	defer g.startMu.Unlock()
	g.stopActive()
}

// Active returns the playing tone, if any
func (g *Generator) Active() (Kind, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.active == nil {
		return 0, false
	}
	return g.active.kind, true
}

func (g *Generator) stopActive() {
	g.mu.Lock()
	pb := g.active
	g.active = nil
	g.mu.Unlock()

	if pb == nil {
		return
	}
	close(pb.stop)
	<-pb.done
	g.log.WithField("tone", pb.kind).Debug("tone stopped")
}

func (g *Generator) play(pb *playback, src source) {
	defer close(pb.done)
	defer func() {
		g.mu.Lock()
		if g.active == pb {
			g.active = nil
		}
		g.mu.Unlock()
	}()

	interval := g.config.FrameInterval
	if interval <= 0 {
		interval = 20 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	frame := make([]int16, media.FrameSamples)
	for {
		select {
		case <-pb.stop:
			return
		case <-ticker.C:
		}
		if !src.next(frame) {
			return
		}
		if err := g.out.WriteSamples(frame); err != nil {
			g.log.WithError(err).Warn("tone output write failed")
			return
		}
	}
}

// source picks the WAV asset for kind, or the oscillator
func (g *Generator) source(kind Kind) source {
	c := cadenceFor(kind)
	if kind == Busy {
		cycles := g.config.BusyCycles
		if cycles <= 0 {
			cycles = 1
		}
		c.limit = cycles * (c.on + c.off)
	}

	if samples, err := g.asset(kind); err == nil {
		return &assetSource{samples: samples, limit: c.limit}
	} else if !errors.Is(err, ErrNoAsset) {
		g.log.WithError(err).WithField("tone", kind).Warn("tone asset unusable, using oscillator")
	}
	return newOscillator(g.config.FrequencyHz, g.config.Amplitude, c)
}

// asset loads and caches the WAV for kind
func (g *Generator) asset(kind Kind) ([]int16, error) {
	g.mu.Lock()
	cached, ok := g.assets[kind]
	g.mu.Unlock()
	if ok {
		return cached, nil
	}

	var path string
	switch kind {
	case Ring:
		path = g.config.RingPath
	case Ringback:
		path = g.config.RingbackPath
	case Busy:
		path = g.config.BusyPath
	}
	if path == "" {
		return nil, ErrNoAsset
	}

	samples, err := media.LoadWAV(path)
	if err != nil {
		return nil, fmt.Errorf("error loading %s tone: %w", kind, err)
	}
	if len(samples) == 0 {
		return nil, fmt.Errorf("%s tone: %w", kind, ErrNoAsset)
	}

	g.mu.Lock()
	g.assets[kind] = samples
	g.mu.Unlock()
	return samples, nil
}
