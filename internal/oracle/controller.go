// Package oracle implements the voice session lifecycle: it owns the state
// machine that ties microphone capture, the live session channel, and
// scheduled playback together, and it accumulates the conversation
// transcript as the session runs.
package oracle

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/arcanumlabs/arcanum/internal/audio"
)

// State is the session lifecycle state.
type State int

const (
	StateIdle State = iota
	StateConnecting
	StateListening
	StateSpeaking
	StateError
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateListening:
		return "listening"
	case StateSpeaking:
		return "speaking"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}

// Status returns the user-facing phrase for the state.
func (s State) Status() string {
	switch s {
	case StateConnecting:
		return "opening a channel to the oracle"
	case StateListening:
		return "the oracle is listening"
	case StateSpeaking:
		return "the oracle speaks"
	case StateError:
		return "the connection has faded"
	default:
		return "the oracle is silent"
	}
}

// Turn is one completed conversation exchange. Either side may be empty
// when only one party spoke during the turn.
type Turn struct {
	User   string `json:"user"`
	Oracle string `json:"oracle"`
}

// Config wires a controller to its channel and audio pipelines. The opener
// funcs let callers substitute fakes; the On* hooks, when set, are invoked
// with the controller lock held and must not call back into the controller.
type Config struct {
	OpenChannel  ChannelOpener
	OpenCapture  CaptureOpener
	OpenPlayback PlaybackOpener

	Voice        string
	SystemPrompt string

	Logger *slog.Logger

	OnStateChange func(State)
	OnTurn        func(Turn)
	OnError       func(message string)
}

// session holds everything owned by one Start/Stop cycle. A fresh session
// gets a fresh generation number; callbacks created for an old generation
// find the number changed and drop their work.
type session struct {
	generation uint64

	channel  Channel
	capture  CapturePipeline
	playback Playback

	cursor time.Duration
	units  map[PlaybackUnit]struct{}

	pendingUser   strings.Builder
	pendingOracle strings.Builder
}

// Controller runs oracle voice sessions. All state transitions are
// serialized by a single mutex; audio decode and playback completion run on
// their own goroutines and re-enter through generation-checked handlers.
type Controller struct {
	cfg Config
	log *slog.Logger

	mu         sync.Mutex
	state      State
	errMsg     string
	generation uint64
	sess       *session
	turns      []Turn
}

// NewController creates an idle controller.
func NewController(cfg Config) *Controller {
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Controller{cfg: cfg, log: log, state: StateIdle}
}

// State returns the current lifecycle state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Err returns the user-visible message of the last session fault, or an
// empty string. It is cleared when a new session starts.
func (c *Controller) Err() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.errMsg
}

// Turns returns a copy of the completed conversation turns.
func (c *Controller) Turns() []Turn {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Turn, len(c.turns))
	copy(out, c.turns)
	return out
}

// Start opens a new session. It acquires the capture device first so a
// denied microphone fails fast without dialing anything, then playback,
// then the channel. On success the controller is Connecting and moves to
// Listening once the channel acknowledges setup.
func (c *Controller) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.sess != nil {
		c.mu.Unlock()
		return errors.New("oracle: session already active")
	}
	c.errMsg = ""
	c.turns = nil
	c.mu.Unlock()

	capture, err := c.cfg.OpenCapture()
	if err != nil {
		return err
	}
	playback, err := c.cfg.OpenPlayback()
	if err != nil {
		capture.Stop()
		return err
	}
	channel, err := c.cfg.OpenChannel(ctx, ChannelConfig{
		Voice:        c.cfg.Voice,
		SystemPrompt: c.cfg.SystemPrompt,
	})
	if err != nil {
		capture.Stop()
		if cerr := playback.Close(); cerr != nil {
			c.log.Warn("playback close failed", "error", cerr)
		}
		return err
	}

	c.mu.Lock()
	if c.sess != nil {
		// Lost a start race; release what we acquired.
		c.mu.Unlock()
		capture.Stop()
		_ = playback.Close()
		_ = channel.Close()
		return errors.New("oracle: session already active")
	}
	c.generation++
	s := &session{
		generation: c.generation,
		channel:    channel,
		capture:    capture,
		playback:   playback,
		units:      make(map[PlaybackUnit]struct{}),
	}
	c.sess = s
	c.setStateLocked(StateConnecting)
	c.mu.Unlock()

	go c.eventLoop(s.generation, channel)
	return nil
}

// Stop ends the session, releasing every resource it holds. It is
// idempotent: stopping an idle controller does nothing and returns nil.
func (c *Controller) Stop() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sess == nil {
		return nil
	}
	err := c.teardownLocked()
	c.setStateLocked(StateIdle)
	return err
}

// eventLoop consumes channel events until the channel closes. Each handler
// re-checks the generation under the lock so events racing a teardown are
// dropped.
func (c *Controller) eventLoop(gen uint64, ch Channel) {
	for ev := range ch.Events() {
		c.handleEvent(gen, ev)
	}
	// If the events channel closed without a ClosedEvent or ErrorEvent the
	// session is gone; tear down whatever is left.
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sess == nil || c.sess.generation != gen {
		return
	}
	if err := c.teardownLocked(); err != nil {
		c.log.Warn("session teardown failed", "error", err)
	}
	c.setStateLocked(StateIdle)
}

func (c *Controller) handleEvent(gen uint64, ev ChannelEvent) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := c.sess
	if s == nil || s.generation != gen {
		return
	}

	switch ev := ev.(type) {
	case OpenedEvent:
		c.startCaptureLocked(s)

	case TranscriptEvent:
		if ev.Source == SourceUser {
			s.pendingUser.WriteString(ev.Text)
		} else {
			s.pendingOracle.WriteString(ev.Text)
		}

	case TurnCompleteEvent:
		user := strings.TrimSpace(s.pendingUser.String())
		reply := strings.TrimSpace(s.pendingOracle.String())
		if user != "" || reply != "" {
			turn := Turn{User: user, Oracle: reply}
			c.turns = append(c.turns, turn)
			if c.cfg.OnTurn != nil {
				c.cfg.OnTurn(turn)
			}
		}
		s.pendingUser.Reset()
		s.pendingOracle.Reset()

	case AudioEvent:
		c.scheduleAudioLocked(s, ev.Data)

	case ErrorEvent:
		c.errMsg = ev.Err.Message
		c.log.Error("session channel error", "type", ev.Err.Type, "error", ev.Err)
		if c.cfg.OnError != nil {
			c.cfg.OnError(c.errMsg)
		}
		c.setStateLocked(StateError)
		if err := c.teardownLocked(); err != nil {
			c.log.Warn("session teardown failed", "error", err)
		}
		c.setStateLocked(StateIdle)

	case ClosedEvent:
		if err := c.teardownLocked(); err != nil {
			c.log.Warn("session teardown failed", "error", err)
		}
		c.setStateLocked(StateIdle)
	}
}

// startCaptureLocked begins streaming microphone frames into the channel.
// The frame callback runs on the capture device's goroutine and never takes
// the controller lock; a send failing after teardown is expected and only
// logged.
func (c *Controller) startCaptureLocked(s *session) {
	ch := s.channel
	log := c.log
	err := s.capture.Start(func(samples []float32) {
		if err := ch.Send(audio.EncodeFrame(samples)); err != nil {
			log.Debug("dropping capture frame", "error", err)
		}
	})
	if err != nil {
		c.errMsg = "the microphone fell silent"
		c.log.Error("capture start failed", "error", err)
		if c.cfg.OnError != nil {
			c.cfg.OnError(c.errMsg)
		}
		c.setStateLocked(StateError)
		if terr := c.teardownLocked(); terr != nil {
			c.log.Warn("session teardown failed", "error", terr)
		}
		c.setStateLocked(StateIdle)
		return
	}
	c.setStateLocked(StateListening)
}

// scheduleAudioLocked decodes one speech chunk and schedules it after any
// audio already queued. Malformed chunks are skipped; the session keeps
// running.
func (c *Controller) scheduleAudioLocked(s *session, data string) {
	buf, err := audio.DecodeBuffer(data, audio.PlaybackSampleRate, 1)
	if err != nil {
		c.log.Warn("skipping malformed audio chunk", "error", err)
		return
	}
	gen := s.generation
	unit, cursor := s.playback.Schedule(buf, s.cursor, func(u PlaybackUnit) {
		c.unitDone(gen, u)
	})
	s.cursor = cursor
	s.units[unit] = struct{}{}
	c.setStateLocked(StateSpeaking)
}

// unitDone runs when a playback unit finishes. When the last live unit
// drains the oracle has stopped speaking.
func (c *Controller) unitDone(gen uint64, u PlaybackUnit) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := c.sess
	if s == nil || s.generation != gen {
		return
	}
	delete(s.units, u)
	if len(s.units) == 0 && c.state == StateSpeaking {
		c.setStateLocked(StateListening)
	}
}

// teardownLocked releases every session resource. Each step runs even if an
// earlier one fails; the combined error is returned. The channel is closed
// first so its event goroutine stops producing work.
func (c *Controller) teardownLocked() error {
	s := c.sess
	if s == nil {
		return nil
	}
	c.sess = nil

	var errs []error
	if s.channel != nil {
		if err := s.channel.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if s.capture != nil {
		s.capture.Stop()
	}
	if s.playback != nil {
		s.playback.StopAll()
		if err := s.playback.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (c *Controller) setStateLocked(next State) {
	if c.state == next {
		return
	}
	c.state = next
	if c.cfg.OnStateChange != nil {
		c.cfg.OnStateChange(next)
	}
}
