package audio

import (
	"encoding/base64"
	"errors"
	"math"
	"testing"
	"time"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	t.Parallel()

	in := []float32{0, 0.5, -0.5, 0.999, -1, 0.0001, -0.0001}
	data := EncodeFrame(in)

	buf, err := DecodeBuffer(data, CaptureSampleRate, 1)
	if err != nil {
		t.Fatalf("DecodeBuffer: %v", err)
	}
	if len(buf.Channels) != 1 || len(buf.Channels[0]) != len(in) {
		t.Fatalf("decoded shape = %dx%d, want 1x%d", len(buf.Channels), len(buf.Channels[0]), len(in))
	}
	for i, want := range in {
		got := buf.Channels[0][i]
		if math.Abs(float64(got-want)) > 1.0/32768.0 {
			t.Errorf("sample %d: got %v, want %v within one quantization step", i, got, want)
		}
	}
}

func TestEncodeFrameClampsOutOfRange(t *testing.T) {
	t.Parallel()

	data := EncodeFrame([]float32{1.5, -1.5})
	raw, err := base64.StdEncoding.DecodeString(data)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	hi := int16(raw[0]) | int16(raw[1])<<8
	lo := int16(raw[2]) | int16(raw[3])<<8
	if hi != 32767 {
		t.Errorf("over-range sample = %d, want 32767", hi)
	}
	if lo != -32768 {
		t.Errorf("under-range sample = %d, want -32768", lo)
	}
}

func TestDecodeBufferRejectsMalformedPayloads(t *testing.T) {
	t.Parallel()

	if _, err := DecodeBuffer("%%%", PlaybackSampleRate, 1); err == nil {
		t.Error("invalid base64 accepted")
	}

	// Three bytes cannot form whole 16-bit samples.
	data := base64.StdEncoding.EncodeToString([]byte{1, 2, 3})
	_, err := DecodeBuffer(data, PlaybackSampleRate, 1)
	var merr *MalformedAudioError
	if !errors.As(err, &merr) {
		t.Fatalf("err = %v, want *MalformedAudioError", err)
	}
	if merr.ByteLen != 3 || merr.Channels != 1 {
		t.Errorf("error fields = %+v", merr)
	}

	// Six bytes is three mono samples but only one and a half stereo frames.
	data = base64.StdEncoding.EncodeToString([]byte{1, 2, 3, 4, 5, 6})
	if _, err := DecodeBuffer(data, PlaybackSampleRate, 2); !errors.As(err, &merr) {
		t.Errorf("stereo misalignment err = %v, want *MalformedAudioError", err)
	}
}

func TestDecodeBufferDeinterleavesChannels(t *testing.T) {
	t.Parallel()

	// Two stereo frames: left 16384, right -16384, then left 0, right 8192.
	raw := []byte{
		0x00, 0x40, 0x00, 0xc0,
		0x00, 0x00, 0x00, 0x20,
	}
	buf, err := DecodeBuffer(base64.StdEncoding.EncodeToString(raw), PlaybackSampleRate, 2)
	if err != nil {
		t.Fatalf("DecodeBuffer: %v", err)
	}
	left, right := buf.Channels[0], buf.Channels[1]
	if left[0] != 0.5 || left[1] != 0 {
		t.Errorf("left channel = %v", left)
	}
	if right[0] != -0.5 || right[1] != 0.25 {
		t.Errorf("right channel = %v", right)
	}
}

func TestBufferDuration(t *testing.T) {
	t.Parallel()

	buf := &Buffer{
		Channels:   [][]float32{make([]float32, PlaybackSampleRate)},
		SampleRate: PlaybackSampleRate,
	}
	if got := buf.Duration(); got != time.Second {
		t.Errorf("Duration() = %v, want 1s", got)
	}

	var empty *Buffer
	if got := empty.Duration(); got != 0 {
		t.Errorf("nil buffer Duration() = %v, want 0", got)
	}
}

func TestPCM16Reinterleaves(t *testing.T) {
	t.Parallel()

	buf := &Buffer{
		Channels:   [][]float32{{0.5, 0}, {-0.5, 0.25}},
		SampleRate: PlaybackSampleRate,
	}
	got := buf.PCM16()
	want := []byte{
		0x00, 0x40, 0x00, 0xc0,
		0x00, 0x00, 0x00, 0x20,
	}
	if len(got) != len(want) {
		t.Fatalf("len = %d, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("byte %d = %#x, want %#x", i, got[i], want[i])
		}
	}
}
