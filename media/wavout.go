/* SPDX-License-Identifier: MPL-2.0
 * Copyright 2025 Tejus Pratap <tejzpr@gmail.com>
 *
 * See CONTRIBUTORS.md for full contributor list.
 */

package media

import (
	"fmt"
	"os"
	"sync"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

// WAVFileOutput records everything written to it as a mono 16-bit WAV file
type WAVFileOutput struct {
	mu  sync.Mutex
	f   *os.File
	enc *wav.Encoder
	buf *audio.IntBuffer
}

// NewWAVFileOutput creates (or truncates) the file at path
func NewWAVFileOutput(path string) (*WAVFileOutput, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("error creating %s: %w", path, err)
	}
	return &WAVFileOutput{
		f:   f,
		enc: wav.NewEncoder(f, SampleRate, 16, 1, 1),
		buf: &audio.IntBuffer{
			Format:         &audio.Format{NumChannels: 1, SampleRate: SampleRate},
			SourceBitDepth: 16,
		},
	}, nil
}

// WriteSamples implements Output
func (o *WAVFileOutput) WriteSamples(samples []int16) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.enc == nil {
		return fmt.Errorf("output closed")
	}

	data := o.buf.Data[:0]
	for _, s := range samples {
		data = append(data, int(s))
	}
	o.buf.Data = data
	if err := o.enc.Write(o.buf); err != nil {
		return fmt.Errorf("error writing samples: %w", err)
	}
	return nil
}

// Close finalizes the WAV header and closes the file
func (o *WAVFileOutput) Close() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.enc == nil {
		return nil
	}
	encErr := o.enc.Close()
	fileErr := o.f.Close()
	o.enc = nil
	if encErr != nil {
		return fmt.Errorf("error finalizing WAV: %w", encErr)
	}
	return fileErr
}
