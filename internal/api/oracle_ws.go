package api

import (
	"log/slog"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/arcanumlabs/arcanum/internal/audio"
	"github.com/arcanumlabs/arcanum/internal/oracle"
)

// OracleBridge carries oracle voice sessions over a browser websocket.
// The browser streams captured microphone chunks up; session state,
// transcript turns, and synthesized speech flow back down.
type OracleBridge struct {
	openChannel  oracle.ChannelOpener
	voice        string
	systemPrompt string
	log          *slog.Logger
	upgrader     websocket.Upgrader
}

// NewOracleBridge creates the bridge.
func NewOracleBridge(openChannel oracle.ChannelOpener, voice, systemPrompt string, logger *slog.Logger) *OracleBridge {
	if logger == nil {
		logger = slog.Default()
	}
	return &OracleBridge{
		openChannel:  openChannel,
		voice:        voice,
		systemPrompt: systemPrompt,
		log:          logger,
		upgrader:     websocket.Upgrader{ReadBufferSize: 4096, WriteBufferSize: 4096},
	}
}

// Browser protocol frames.

type clientEnvelope struct {
	Type string `json:"type"`
	Data string `json:"data,omitempty"`
}

type serverEnvelope struct {
	Type    string       `json:"type"`
	State   string       `json:"state,omitempty"`
	Status  string       `json:"status,omitempty"`
	Message string       `json:"message,omitempty"`
	Data    string       `json:"data,omitempty"`
	Turn    *oracle.Turn `json:"turn,omitempty"`
}

// remoteCapture adapts browser-sent audio chunks to the capture pipeline
// seam. The browser does the actual recording; this end just relays frames.
type remoteCapture struct {
	mu      sync.Mutex
	onFrame func([]float32)
	log     *slog.Logger
}

func (c *remoteCapture) Start(onFrame func(samples []float32)) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onFrame = onFrame
	return nil
}

func (c *remoteCapture) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onFrame = nil
}

// push decodes one browser chunk and forwards it. Malformed chunks are
// dropped.
func (c *remoteCapture) push(data string) {
	c.mu.Lock()
	cb := c.onFrame
	c.mu.Unlock()
	if cb == nil {
		return
	}
	buf, err := audio.DecodeBuffer(data, audio.CaptureSampleRate, 1)
	if err != nil {
		c.log.Warn("dropping malformed browser audio", "error", err)
		return
	}
	cb(buf.Channels[0])
}

// wsSink forwards synthesized speech to the browser through the outbound
// queue.
type wsSink struct {
	send func(serverEnvelope)
}

func (s *wsSink) Write(pcm []byte) error {
	s.send(serverEnvelope{Type: "audio", Data: audio.EncodePCM(pcm)})
	return nil
}

func (s *wsSink) Close() error { return nil }

// ServeHTTP runs one oracle session connection.
func (b *OracleBridge) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := b.upgrader.Upgrade(w, r, nil)
	if err != nil {
		b.log.Warn("oracle socket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	sess := SessionFrom(r.Context())
	log := b.log
	if sess != nil {
		log = b.log.With("user_id", sess.UserID)
	}

	out := make(chan serverEnvelope, 256)
	var sendOnce sync.Once
	done := make(chan struct{})

	// Hooks run with the controller lock held; sends must never block.
	trySend := func(msg serverEnvelope) {
		select {
		case out <- msg:
		default:
			log.Warn("oracle socket send queue full, dropping", "type", msg.Type)
		}
	}

	capture := &remoteCapture{log: log}
	ctrl := oracle.NewController(oracle.Config{
		OpenChannel: b.openChannel,
		OpenCapture: func() (oracle.CapturePipeline, error) { return capture, nil },
		OpenPlayback: func() (oracle.Playback, error) {
			player := audio.NewPlayer(&wsSink{send: trySend}, audio.NewDeviceClock())
			return oracle.NewDevicePlayback(player), nil
		},
		Voice:        b.voice,
		SystemPrompt: b.systemPrompt,
		Logger:       log,
		OnStateChange: func(s oracle.State) {
			trySend(serverEnvelope{Type: "state", State: s.String(), Status: s.Status()})
		},
		OnTurn: func(t oracle.Turn) {
			turn := t
			trySend(serverEnvelope{Type: "turn", Turn: &turn})
		},
		OnError: func(message string) {
			trySend(serverEnvelope{Type: "error", Message: message})
		},
	})

	// Writer goroutine owns all websocket writes.
	go func() {
		for {
			select {
			case msg := <-out:
				if err := conn.WriteJSON(msg); err != nil {
					return
				}
			case <-done:
				return
			}
		}
	}()

	defer func() {
		if err := ctrl.Stop(); err != nil {
			log.Warn("oracle session stop failed", "error", err)
		}
		sendOnce.Do(func() { close(done) })
	}()

	for {
		var msg clientEnvelope
		if err := conn.ReadJSON(&msg); err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Debug("oracle socket read ended", "error", err)
			}
			return
		}
		switch msg.Type {
		case "start":
			if err := ctrl.Start(r.Context()); err != nil {
				log.Warn("oracle session start failed", "error", err)
				trySend(serverEnvelope{Type: "error", Message: "the oracle could not be reached"})
			}
		case "audio":
			capture.push(msg.Data)
		case "stop":
			if err := ctrl.Stop(); err != nil {
				log.Warn("oracle session stop failed", "error", err)
			}
		default:
			log.Debug("ignoring unknown oracle socket message", "type", msg.Type)
		}
	}
}
