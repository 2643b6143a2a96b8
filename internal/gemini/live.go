// Package gemini talks to the Gemini API: the live bidirectional audio
// websocket used by oracle sessions and the image generation endpoint used
// by the spellbook.
package gemini

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/arcanumlabs/arcanum/internal/oracle"
)

const (
	defaultBaseURL = "wss://generativelanguage.googleapis.com"
	livePath       = "/ws/google.ai.generativelanguage.v1beta.GenerativeService.BidiGenerateContent"

	// DefaultLiveModel is the native audio dialog model.
	DefaultLiveModel = "models/gemini-2.5-flash-native-audio-preview-09-2025"

	captureMimeType = "audio/pcm;rate=16000"
)

// LiveConfig configures the live channel dialer.
type LiveConfig struct {
	APIKey string
	// Model overrides DefaultLiveModel.
	Model string
	// BaseURL overrides the production endpoint. Used by tests.
	BaseURL string
	// HandshakeTimeout bounds the websocket dial. Zero means 30s.
	HandshakeTimeout time.Duration
	Logger           *slog.Logger
}

// Wire shapes for the BidiGenerateContent protocol. Field names follow the
// service's JSON casing.

type setupMessage struct {
	Setup setupPayload `json:"setup"`
}

type setupPayload struct {
	Model                    string           `json:"model"`
	GenerationConfig         generationConfig `json:"generationConfig"`
	SystemInstruction        *wireContent     `json:"systemInstruction,omitempty"`
	InputAudioTranscription  struct{}         `json:"inputAudioTranscription"`
	OutputAudioTranscription struct{}         `json:"outputAudioTranscription"`
}

type generationConfig struct {
	ResponseModalities []string     `json:"responseModalities"`
	SpeechConfig       speechConfig `json:"speechConfig"`
}

type speechConfig struct {
	VoiceConfig voiceConfig `json:"voiceConfig"`
}

type voiceConfig struct {
	PrebuiltVoiceConfig prebuiltVoiceConfig `json:"prebuiltVoiceConfig"`
}

type prebuiltVoiceConfig struct {
	VoiceName string `json:"voiceName"`
}

type wireContent struct {
	Parts []wirePart `json:"parts"`
}

type wirePart struct {
	Text       string          `json:"text,omitempty"`
	InlineData *wireInlineData `json:"inlineData,omitempty"`
}

type wireInlineData struct {
	MimeType string `json:"mimeType"`
	Data     string `json:"data"`
}

type realtimeInputMessage struct {
	RealtimeInput realtimeInput `json:"realtimeInput"`
}

type realtimeInput struct {
	MediaChunks []wireInlineData `json:"mediaChunks"`
}

type serverMessage struct {
	SetupComplete *struct{}      `json:"setupComplete,omitempty"`
	ServerContent *serverContent `json:"serverContent,omitempty"`
}

type serverContent struct {
	InputTranscription  *transcription `json:"inputTranscription,omitempty"`
	OutputTranscription *transcription `json:"outputTranscription,omitempty"`
	ModelTurn           *wireContent   `json:"modelTurn,omitempty"`
	TurnComplete        bool           `json:"turnComplete,omitempty"`
	Interrupted         bool           `json:"interrupted,omitempty"`
}

type transcription struct {
	Text string `json:"text"`
}

// liveChannel is an open BidiGenerateContent session.
type liveChannel struct {
	conn *websocket.Conn
	log  *slog.Logger

	events  chan oracle.ChannelEvent
	done    chan struct{}
	closing chan struct{}

	writeMu   sync.Mutex
	closeOnce sync.Once
	closed    atomic.Bool
}

// OpenLiveChannel dials the live endpoint, sends the session setup frame,
// and returns the channel. The remote acknowledgment arrives asynchronously
// as an OpenedEvent on Events.
func OpenLiveChannel(ctx context.Context, cfg LiveConfig, session oracle.ChannelConfig) (oracle.Channel, error) {
	wsURL, err := liveURL(cfg)
	if err != nil {
		return nil, err
	}
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}

	timeout := cfg.HandshakeTimeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	dialer := &websocket.Dialer{HandshakeTimeout: timeout}
	conn, resp, err := dialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		if resp != nil {
			return nil, oracle.NewTransportError(fmt.Sprintf("live dial failed (status %d)", resp.StatusCode), err)
		}
		return nil, oracle.NewTransportError("live dial failed", err)
	}

	model := cfg.Model
	if model == "" {
		model = DefaultLiveModel
	}
	setup := setupMessage{Setup: setupPayload{
		Model: model,
		GenerationConfig: generationConfig{
			ResponseModalities: []string{"AUDIO"},
			SpeechConfig: speechConfig{
				VoiceConfig: voiceConfig{
					PrebuiltVoiceConfig: prebuiltVoiceConfig{VoiceName: session.Voice},
				},
			},
		},
	}}
	if session.SystemPrompt != "" {
		setup.Setup.SystemInstruction = &wireContent{Parts: []wirePart{{Text: session.SystemPrompt}}}
	}
	if err := conn.WriteJSON(setup); err != nil {
		conn.Close()
		return nil, oracle.NewTransportError("send session setup", err)
	}

	c := &liveChannel{
		conn:    conn,
		log:     log,
		events:  make(chan oracle.ChannelEvent, 256),
		done:    make(chan struct{}),
		closing: make(chan struct{}),
	}
	go c.readLoop()
	return c, nil
}

func liveURL(cfg LiveConfig) (string, error) {
	base := cfg.BaseURL
	if base == "" {
		base = defaultBaseURL
	}
	u, err := url.Parse(base)
	if err != nil {
		return "", oracle.NewTransportError("parse live endpoint", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	}
	u.Path = livePath
	q := u.Query()
	q.Set("key", cfg.APIKey)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func (c *liveChannel) Events() <-chan oracle.ChannelEvent { return c.events }

// Send transmits one base64 chunk of captured microphone audio.
func (c *liveChannel) Send(data string) error {
	if c.closed.Load() {
		return oracle.NewTransportError("channel is closed", nil)
	}
	msg := realtimeInputMessage{RealtimeInput: realtimeInput{
		MediaChunks: []wireInlineData{{MimeType: captureMimeType, Data: data}},
	}}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := c.conn.WriteJSON(msg); err != nil {
		return oracle.NewTransportError("send audio chunk", err)
	}
	return nil
}

// Close shuts the channel down and waits for the read loop to exit.
// Idempotent.
func (c *liveChannel) Close() error {
	c.closeOnce.Do(func() {
		c.closed.Store(true)
		close(c.closing)
		c.writeMu.Lock()
		_ = c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(2*time.Second))
		c.writeMu.Unlock()
		_ = c.conn.Close()
	})
	<-c.done
	return nil
}

func (c *liveChannel) readLoop() {
	defer close(c.done)
	defer close(c.events)

	for {
		_, payload, err := c.conn.ReadMessage()
		if err != nil {
			if c.closed.Load() {
				return
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.emit(oracle.ClosedEvent{})
				return
			}
			c.emit(oracle.ErrorEvent{Err: oracle.NewTransportError("live channel read failed", err)})
			return
		}

		var msg serverMessage
		if err := json.Unmarshal(payload, &msg); err != nil {
			c.log.Warn("skipping unparseable live message", "error", err)
			continue
		}
		if !c.dispatch(&msg) {
			return
		}
	}
}

// dispatch translates one server message into channel events. Returns false
// when the channel is closing and emission was abandoned.
func (c *liveChannel) dispatch(msg *serverMessage) bool {
	if msg.SetupComplete != nil {
		return c.emit(oracle.OpenedEvent{})
	}
	sc := msg.ServerContent
	if sc == nil {
		return true
	}
	if sc.InputTranscription != nil && sc.InputTranscription.Text != "" {
		if !c.emit(oracle.TranscriptEvent{Source: oracle.SourceUser, Text: sc.InputTranscription.Text}) {
			return false
		}
	}
	if sc.OutputTranscription != nil && sc.OutputTranscription.Text != "" {
		if !c.emit(oracle.TranscriptEvent{Source: oracle.SourceOracle, Text: sc.OutputTranscription.Text}) {
			return false
		}
	}
	if sc.ModelTurn != nil {
		for _, p := range sc.ModelTurn.Parts {
			if p.InlineData == nil || p.InlineData.Data == "" {
				continue
			}
			if !c.emit(oracle.AudioEvent{Data: p.InlineData.Data}) {
				return false
			}
		}
	}
	if sc.TurnComplete {
		if !c.emit(oracle.TurnCompleteEvent{}) {
			return false
		}
	}
	return true
}

func (c *liveChannel) emit(ev oracle.ChannelEvent) bool {
	select {
	case c.events <- ev:
		return true
	case <-c.closing:
		return false
	}
}
