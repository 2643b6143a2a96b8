// Package audio implements the PCM codec, microphone capture, and
// gap-free playback scheduling used by the oracle session.
//
// Wire audio is 16-bit signed little-endian PCM carried as base64 text
// so it can be embedded in JSON messages: 16 kHz mono outbound
// (microphone), 24 kHz mono inbound (oracle speech).
package audio

import (
	"encoding/base64"
	"fmt"
	"time"
)

// MalformedAudioError reports an inbound payload whose byte length cannot
// be interpreted as interleaved 16-bit samples for the given channel count.
type MalformedAudioError struct {
	ByteLen  int
	Channels int
}

func (e *MalformedAudioError) Error() string {
	return fmt.Sprintf("malformed audio payload: %d bytes is not a multiple of %d (2 bytes x %d channels)", e.ByteLen, 2*e.Channels, e.Channels)
}

// Buffer is a decoded audio buffer: per-channel float samples in [-1, 1]
// at a fixed sample rate.
type Buffer struct {
	Channels   [][]float32
	SampleRate int
}

// Duration returns the playback duration of the buffer.
func (b *Buffer) Duration() time.Duration {
	if b == nil || len(b.Channels) == 0 || b.SampleRate <= 0 {
		return 0
	}
	frames := len(b.Channels[0])
	return time.Duration(frames) * time.Second / time.Duration(b.SampleRate)
}

// PCM16 re-interleaves the buffer into 16-bit signed little-endian bytes
// for device sinks.
func (b *Buffer) PCM16() []byte {
	if b == nil || len(b.Channels) == 0 {
		return nil
	}
	channels := len(b.Channels)
	frames := len(b.Channels[0])
	out := make([]byte, frames*channels*2)
	for frame := 0; frame < frames; frame++ {
		for ch := 0; ch < channels; ch++ {
			s := quantize(b.Channels[ch][frame])
			i := (frame*channels + ch) * 2
			out[i] = byte(s)
			out[i+1] = byte(s >> 8)
		}
	}
	return out
}

// EncodeFrame converts one captured frame of float samples in [-1, 1] to
// the transport representation: s16le bytes, base64-encoded. Deterministic,
// no side effects.
func EncodeFrame(samples []float32) string {
	buf := make([]byte, len(samples)*2)
	for i, sample := range samples {
		s := quantize(sample)
		buf[i*2] = byte(s)
		buf[i*2+1] = byte(s >> 8)
	}
	return base64.StdEncoding.EncodeToString(buf)
}

// EncodePCM base64-encodes already-interleaved s16le bytes for transport.
func EncodePCM(pcm []byte) string {
	return base64.StdEncoding.EncodeToString(pcm)
}

// DecodeBuffer reverses EncodeFrame's transport encoding: base64 text to
// s16le bytes to per-channel float samples. Returns *MalformedAudioError
// when the byte length does not divide evenly into frames.
func DecodeBuffer(data string, sampleRate, channels int) (*Buffer, error) {
	if channels <= 0 {
		return nil, fmt.Errorf("channel count must be positive, got %d", channels)
	}
	if sampleRate <= 0 {
		return nil, fmt.Errorf("sample rate must be positive, got %d", sampleRate)
	}
	raw, err := base64.StdEncoding.DecodeString(data)
	if err != nil {
		return nil, fmt.Errorf("decode audio payload: %w", err)
	}
	if len(raw)%(2*channels) != 0 {
		return nil, &MalformedAudioError{ByteLen: len(raw), Channels: channels}
	}

	frames := len(raw) / (2 * channels)
	buf := &Buffer{
		Channels:   make([][]float32, channels),
		SampleRate: sampleRate,
	}
	for ch := range buf.Channels {
		buf.Channels[ch] = make([]float32, frames)
	}
	for frame := 0; frame < frames; frame++ {
		for ch := 0; ch < channels; ch++ {
			i := (frame*channels + ch) * 2
			sample := int16(raw[i]) | int16(raw[i+1])<<8
			buf.Channels[ch][frame] = float32(sample) / 32768.0
		}
	}
	return buf, nil
}

func quantize(sample float32) int16 {
	scaled := sample * 32768.0
	if scaled > 32767 {
		return 32767
	}
	if scaled < -32768 {
		return -32768
	}
	return int16(scaled)
}
