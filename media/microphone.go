/* SPDX-License-Identifier: MPL-2.0
 * Copyright 2025 Tejus Pratap <tejzpr@gmail.com>
 *
 * See CONTRIBUTORS.md for full contributor list.
 */

package media

import (
	"context"
	"fmt"
	"os"
	"sync"

	"github.com/go-audio/wav"
)

// Microphone is the local capture device. RequestAccess must succeed
// before frames are read.
type Microphone interface {
	RequestAccess(ctx context.Context) error
	// ReadFrame fills frame with the next samples at SampleRate
	ReadFrame(frame []int16) error
}

// SilenceMicrophone grants access and captures silence
type SilenceMicrophone struct{}

// RequestAccess implements Microphone
func (SilenceMicrophone) RequestAccess(ctx context.Context) error { return ctx.Err() }

// ReadFrame implements Microphone
func (SilenceMicrophone) ReadFrame(frame []int16) error {
	for i := range frame {
		frame[i] = 0
	}
	return nil
}

// WAVMicrophone loops a mono 8 kHz WAV file as captured audio. Access is
// denied when the file cannot be decoded.
type WAVMicrophone struct {
	Path string

	mu      sync.Mutex
	samples []int16
	pos     int
}

// NewWAVMicrophone creates a microphone backed by the WAV file at path
func NewWAVMicrophone(path string) *WAVMicrophone {
	return &WAVMicrophone{Path: path}
}

// RequestAccess loads and validates the file
func (m *WAVMicrophone) RequestAccess(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	samples, err := LoadWAV(m.Path)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrMicrophoneDenied, err)
	}
	if len(samples) == 0 {
		return fmt.Errorf("%w: %s has no samples", ErrMicrophoneDenied, m.Path)
	}

	m.mu.Lock()
	m.samples = samples
	m.pos = 0
	m.mu.Unlock()
	return nil
}

// ReadFrame implements Microphone
func (m *WAVMicrophone) ReadFrame(frame []int16) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.samples) == 0 {
		return ErrMicrophoneDenied
	}
	for i := range frame {
		frame[i] = m.samples[m.pos]
		m.pos = (m.pos + 1) % len(m.samples)
	}
	return nil
}

// LoadWAV decodes a mono 8 kHz WAV file into 16-bit samples. Other bit
// depths are rescaled, other channel layouts keep the first channel.
func LoadWAV(path string) ([]int16, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("error opening %s: %w", path, err)
	}
	defer f.Close()

	dec := wav.NewDecoder(f)
	if !dec.IsValidFile() {
		return nil, fmt.Errorf("%s is not a valid WAV file", path)
	}
	if dec.SampleRate != SampleRate {
		return nil, fmt.Errorf("%s: sample rate %d, want %d", path, dec.SampleRate, SampleRate)
	}

	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return nil, fmt.Errorf("error decoding %s: %w", path, err)
	}

	channels := int(dec.NumChans)
	if channels < 1 {
		channels = 1
	}
	shift := int(dec.BitDepth) - 16
	samples := make([]int16, 0, len(buf.Data)/channels)
	for i := 0; i < len(buf.Data); i += channels {
		v := buf.Data[i]
		if dec.BitDepth == 8 {
			v -= 128
		}
		switch {
		case shift > 0:
			v >>= uint(shift)
		case shift < 0:
			v <<= uint(-shift)
		}
		samples = append(samples, int16(v))
	}
	return samples, nil
}
