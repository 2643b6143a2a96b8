package api

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/arcanumlabs/arcanum/internal/audio"
	"github.com/arcanumlabs/arcanum/internal/oracle"
)

type fakeOracleChannel struct {
	events chan oracle.ChannelEvent

	mu     sync.Mutex
	sent   []string
	closed bool
}

func newFakeOracleChannel() *fakeOracleChannel {
	return &fakeOracleChannel{events: make(chan oracle.ChannelEvent, 16)}
}

func (f *fakeOracleChannel) Events() <-chan oracle.ChannelEvent { return f.events }

func (f *fakeOracleChannel) Send(data string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return errors.New("closed")
	}
	f.sent = append(f.sent, data)
	return nil
}

func (f *fakeOracleChannel) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.closed {
		f.closed = true
		close(f.events)
	}
	return nil
}

func (f *fakeOracleChannel) sentCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

// readUntil reads envelopes until pred matches, failing on timeout.
func readUntil(t *testing.T, conn *websocket.Conn, pred func(serverEnvelope) bool) serverEnvelope {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for {
		_ = conn.SetReadDeadline(deadline)
		var msg serverEnvelope
		if err := conn.ReadJSON(&msg); err != nil {
			t.Fatalf("reading oracle socket: %v", err)
		}
		if pred(msg) {
			return msg
		}
	}
}

func TestOracleBridgeSession(t *testing.T) {
	t.Parallel()

	ch := newFakeOracleChannel()
	var gotCfg oracle.ChannelConfig
	bridge := NewOracleBridge(func(ctx context.Context, cfg oracle.ChannelConfig) (oracle.Channel, error) {
		gotCfg = cfg
		return ch, nil
	}, "Zephyr", "speak as the oracle", nil)

	srv := httptest.NewServer(http.HandlerFunc(bridge.ServeHTTP))
	t.Cleanup(srv.Close)

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })

	if err := conn.WriteJSON(clientEnvelope{Type: "start"}); err != nil {
		t.Fatalf("send start: %v", err)
	}
	readUntil(t, conn, func(m serverEnvelope) bool {
		return m.Type == "state" && m.State == "connecting"
	})
	if gotCfg.Voice != "Zephyr" || gotCfg.SystemPrompt != "speak as the oracle" {
		t.Fatalf("channel config = %+v", gotCfg)
	}

	ch.events <- oracle.OpenedEvent{}
	readUntil(t, conn, func(m serverEnvelope) bool {
		return m.Type == "state" && m.State == "listening"
	})

	// Browser microphone chunk flows through to the oracle channel.
	frame := audio.EncodeFrame([]float32{0.5, -0.25, 0})
	if err := conn.WriteJSON(clientEnvelope{Type: "audio", Data: frame}); err != nil {
		t.Fatalf("send audio: %v", err)
	}
	waitDeadline := time.Now().Add(2 * time.Second)
	for ch.sentCount() == 0 {
		if time.Now().After(waitDeadline) {
			t.Fatal("captured chunk never reached the channel")
		}
		time.Sleep(2 * time.Millisecond)
	}
	ch.mu.Lock()
	relayed := ch.sent[0]
	ch.mu.Unlock()
	if relayed != frame {
		t.Fatalf("relayed chunk = %q, want %q", relayed, frame)
	}

	// Transcripts complete into a turn frame.
	ch.events <- oracle.TranscriptEvent{Source: oracle.SourceUser, Text: "what lies ahead"}
	ch.events <- oracle.TranscriptEvent{Source: oracle.SourceOracle, Text: "mist and moonlight"}
	ch.events <- oracle.TurnCompleteEvent{}
	turn := readUntil(t, conn, func(m serverEnvelope) bool { return m.Type == "turn" })
	if turn.Turn == nil || turn.Turn.User != "what lies ahead" || turn.Turn.Oracle != "mist and moonlight" {
		t.Fatalf("turn = %+v", turn.Turn)
	}

	// Oracle speech streams back down as audio frames. The speaking state
	// and the frame race on the socket, so collect until both arrive.
	speech := audio.EncodeFrame(make([]float32, 240))
	ch.events <- oracle.AudioEvent{Data: speech}
	var sawSpeaking bool
	var speechFrame string
	deadline := time.Now().Add(2 * time.Second)
	for !sawSpeaking || speechFrame == "" {
		_ = conn.SetReadDeadline(deadline)
		var m serverEnvelope
		if err := conn.ReadJSON(&m); err != nil {
			t.Fatalf("reading oracle socket: %v", err)
		}
		switch {
		case m.Type == "state" && m.State == "speaking":
			sawSpeaking = true
		case m.Type == "audio":
			speechFrame = m.Data
		}
	}
	if speechFrame != speech {
		t.Fatalf("speech frame = %q, want %q", speechFrame, speech)
	}

	// A channel fault surfaces as an error then a return to idle.
	ch.events <- oracle.ErrorEvent{Err: oracle.NewRemoteError("the oracle has departed")}
	errMsg := readUntil(t, conn, func(m serverEnvelope) bool { return m.Type == "error" })
	if errMsg.Message != "the oracle has departed" {
		t.Fatalf("error message = %q", errMsg.Message)
	}
	readUntil(t, conn, func(m serverEnvelope) bool {
		return m.Type == "state" && m.State == "idle"
	})
}

func TestOracleBridgeReportsDialFailure(t *testing.T) {
	t.Parallel()

	bridge := NewOracleBridge(func(ctx context.Context, cfg oracle.ChannelConfig) (oracle.Channel, error) {
		return nil, oracle.NewTransportError("dial failed", errors.New("refused"))
	}, "Zephyr", "", nil)

	srv := httptest.NewServer(http.HandlerFunc(bridge.ServeHTTP))
	t.Cleanup(srv.Close)

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })

	if err := conn.WriteJSON(clientEnvelope{Type: "start"}); err != nil {
		t.Fatalf("send start: %v", err)
	}
	msg := readUntil(t, conn, func(m serverEnvelope) bool { return m.Type == "error" })
	if msg.Message == "" {
		t.Fatal("empty error message")
	}
}
