/* SPDX-License-Identifier: MPL-2.0
 * Copyright 2025 Tejus Pratap <tejzpr@gmail.com>
 *
 * See CONTRIBUTORS.md for full contributor list.
 */

package tones

import (
	"math"

	"github.com/tejzpr/crm-softphone/media"
)

// cadence is an on/off pattern in samples. limit > 0 ends the tone after
// that many samples.
type cadence struct {
	on, off int
	limit   int
}

func cadenceFor(kind Kind) cadence {
	switch kind {
	case Busy:
		return cadence{on: media.SampleRate / 2, off: media.SampleRate / 2}
	default:
		return cadence{on: media.SampleRate, off: 4 * media.SampleRate}
	}
}

type source interface {
	// next fills frame and reports false once the tone is over
	next(frame []int16) bool
}

// assetSource loops a decoded WAV
type assetSource struct {
	samples []int16
	pos     int
	played  int
	limit   int
}

func (s *assetSource) next(frame []int16) bool {
	if s.limit > 0 && s.played >= s.limit {
		return false
	}
	for i := range frame {
		frame[i] = s.samples[s.pos]
		s.pos = (s.pos + 1) % len(s.samples)
	}
	s.played += len(frame)
	return true
}

// attackSamples ramps the gain in and out over 10ms to avoid clicks
const attackSamples = media.SampleRate / 100

// oscillator is a sine with a pulsed gain envelope following a cadence
type oscillator struct {
	step      float64
	amplitude float64
	cadence   cadence
	n         int
}

func newOscillator(freq, amplitude float64, c cadence) *oscillator {
	if freq <= 0 {
		freq = 400
	}
	if amplitude <= 0 || amplitude > 1 {
		amplitude = 0.3
	}
	return &oscillator{
		step:      2 * math.Pi * freq / media.SampleRate,
		amplitude: amplitude * math.MaxInt16,
		cadence:   c,
	}
}

func (o *oscillator) next(frame []int16) bool {
	if o.cadence.limit > 0 && o.n >= o.cadence.limit {
		return false
	}
	for i := range frame {
		frame[i] = int16(o.amplitude * o.gain(o.n) * math.Sin(o.step*float64(o.n)))
		o.n++
	}
	return true
}

// gain is the envelope at sample n: 0 in the off phase, ramped at the
// edges of the on phase.
func (o *oscillator) gain(n int) float64 {
	period := o.cadence.on + o.cadence.off
	pos := n % period
	if pos >= o.cadence.on {
		return 0
	}
	if pos < attackSamples {
		return float64(pos) / attackSamples
	}
	if tail := o.cadence.on - pos; tail < attackSamples {
		return float64(tail) / attackSamples
	}
	return 1
}
