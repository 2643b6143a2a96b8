package oracle

import (
	"time"

	"github.com/arcanumlabs/arcanum/internal/audio"
)

// CapturePipeline produces frames of captured microphone audio. Start begins
// delivery of fixed-size mono float frames at the capture rate; Stop is
// idempotent and releases the underlying device.
type CapturePipeline interface {
	Start(onFrame func(samples []float32)) error
	Stop()
}

// CaptureOpener acquires a capture pipeline. Acquisition is where microphone
// permission is checked, so it fails fast before any channel is dialed.
type CaptureOpener func() (CapturePipeline, error)

// PlaybackUnit is one scheduled chunk of oracle speech.
type PlaybackUnit interface {
	Stop()
}

// Playback schedules decoded audio against a session cursor. Schedule returns
// the unit and the advanced cursor; onDone fires when the unit finishes
// playing, unless the unit was stopped first.
type Playback interface {
	Schedule(buf *audio.Buffer, cursor time.Duration, onDone func(PlaybackUnit)) (PlaybackUnit, time.Duration)
	StopAll()
	Close() error
}

// PlaybackOpener acquires a playback pipeline.
type PlaybackOpener func() (Playback, error)

// devicePlayback adapts audio.Player to the Playback seam.
type devicePlayback struct {
	player *audio.Player
}

// NewDevicePlayback wraps an audio player for use by the session controller.
func NewDevicePlayback(player *audio.Player) Playback {
	return &devicePlayback{player: player}
}

func (p *devicePlayback) Schedule(buf *audio.Buffer, cursor time.Duration, onDone func(PlaybackUnit)) (PlaybackUnit, time.Duration) {
	var wrapped func(*audio.Unit)
	if onDone != nil {
		wrapped = func(u *audio.Unit) { onDone(u) }
	}
	return p.player.Schedule(buf, cursor, wrapped)
}

func (p *devicePlayback) StopAll() { p.player.StopAll() }

func (p *devicePlayback) Close() error { return p.player.Close() }
