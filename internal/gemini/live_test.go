package gemini

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/arcanumlabs/arcanum/internal/oracle"
)

var upgrader = websocket.Upgrader{}

// liveServer runs handler against each websocket connection and records
// the API key of the last dial.
func liveServer(t *testing.T, handler func(*websocket.Conn)) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != livePath {
			t.Errorf("dial path = %q, want %q", r.URL.Path, livePath)
		}
		if r.URL.Query().Get("key") != "test-key" {
			t.Errorf("key query = %q, want test-key", r.URL.Query().Get("key"))
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		defer conn.Close()
		handler(conn)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func dial(t *testing.T, srv *httptest.Server, session oracle.ChannelConfig) oracle.Channel {
	t.Helper()
	ch, err := OpenLiveChannel(context.Background(), LiveConfig{
		APIKey:  "test-key",
		BaseURL: srv.URL,
	}, session)
	if err != nil {
		t.Fatalf("OpenLiveChannel: %v", err)
	}
	t.Cleanup(func() { ch.Close() })
	return ch
}

func nextEvent(t *testing.T, ch oracle.Channel) oracle.ChannelEvent {
	t.Helper()
	select {
	case ev, ok := <-ch.Events():
		if !ok {
			t.Fatal("events channel closed")
		}
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for channel event")
		return nil
	}
}

func TestOpenLiveChannelNegotiatesSession(t *testing.T) {
	t.Parallel()

	setupFrames := make(chan setupMessage, 1)
	mediaFrames := make(chan realtimeInputMessage, 1)

	srv := liveServer(t, func(conn *websocket.Conn) {
		var setup setupMessage
		if err := conn.ReadJSON(&setup); err != nil {
			t.Errorf("read setup: %v", err)
			return
		}
		setupFrames <- setup
		_ = conn.WriteJSON(map[string]any{"setupComplete": map[string]any{}})

		var media realtimeInputMessage
		if err := conn.ReadJSON(&media); err != nil {
			t.Errorf("read media: %v", err)
			return
		}
		mediaFrames <- media

		_ = conn.WriteJSON(serverMessage{ServerContent: &serverContent{
			InputTranscription: &transcription{Text: "what lies ahead"},
		}})
		// An unparseable frame must be skipped, not kill the session.
		_ = conn.WriteMessage(websocket.TextMessage, []byte("{not json"))
		_ = conn.WriteJSON(serverMessage{ServerContent: &serverContent{
			OutputTranscription: &transcription{Text: "mist and moonlight"},
			ModelTurn: &wireContent{Parts: []wirePart{
				{InlineData: &wireInlineData{MimeType: "audio/pcm;rate=24000", Data: "AAAA"}},
			}},
		}})
		_ = conn.WriteJSON(serverMessage{ServerContent: &serverContent{TurnComplete: true}})

		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		// Wait for the client's close response before tearing down.
		conn.ReadMessage()
	})

	ch := dial(t, srv, oracle.ChannelConfig{Voice: "Zephyr", SystemPrompt: "you are the oracle"})

	setup := <-setupFrames
	if setup.Setup.Model != DefaultLiveModel {
		t.Errorf("model = %q, want %q", setup.Setup.Model, DefaultLiveModel)
	}
	gc := setup.Setup.GenerationConfig
	if len(gc.ResponseModalities) != 1 || gc.ResponseModalities[0] != "AUDIO" {
		t.Errorf("responseModalities = %v, want [AUDIO]", gc.ResponseModalities)
	}
	if got := gc.SpeechConfig.VoiceConfig.PrebuiltVoiceConfig.VoiceName; got != "Zephyr" {
		t.Errorf("voice = %q, want Zephyr", got)
	}
	if setup.Setup.SystemInstruction == nil || setup.Setup.SystemInstruction.Parts[0].Text != "you are the oracle" {
		t.Errorf("systemInstruction = %+v", setup.Setup.SystemInstruction)
	}

	if _, ok := nextEvent(t, ch).(oracle.OpenedEvent); !ok {
		t.Fatal("first event is not OpenedEvent")
	}

	if err := ch.Send("c2FtcGxlcw=="); err != nil {
		t.Fatalf("Send: %v", err)
	}
	media := <-mediaFrames
	if len(media.RealtimeInput.MediaChunks) != 1 {
		t.Fatalf("media chunks = %d, want 1", len(media.RealtimeInput.MediaChunks))
	}
	chunk := media.RealtimeInput.MediaChunks[0]
	if chunk.MimeType != captureMimeType || chunk.Data != "c2FtcGxlcw==" {
		t.Errorf("chunk = %+v", chunk)
	}

	ev := nextEvent(t, ch).(oracle.TranscriptEvent)
	if ev.Source != oracle.SourceUser || ev.Text != "what lies ahead" {
		t.Errorf("user transcript = %+v", ev)
	}
	ev = nextEvent(t, ch).(oracle.TranscriptEvent)
	if ev.Source != oracle.SourceOracle || ev.Text != "mist and moonlight" {
		t.Errorf("oracle transcript = %+v", ev)
	}
	audio, ok := nextEvent(t, ch).(oracle.AudioEvent)
	if !ok || audio.Data != "AAAA" {
		t.Errorf("audio event = %+v ok=%v", audio, ok)
	}
	if _, ok := nextEvent(t, ch).(oracle.TurnCompleteEvent); !ok {
		t.Error("expected turn complete event")
	}
	if _, ok := nextEvent(t, ch).(oracle.ClosedEvent); !ok {
		t.Error("expected closed event after normal close")
	}
}

func TestOpenLiveChannelDialFailure(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "no", http.StatusServiceUnavailable)
	}))
	t.Cleanup(srv.Close)

	_, err := OpenLiveChannel(context.Background(), LiveConfig{APIKey: "k", BaseURL: srv.URL}, oracle.ChannelConfig{Voice: "Zephyr"})
	var oerr *oracle.Error
	if !errors.As(err, &oerr) || oerr.Type != oracle.ErrTransport {
		t.Fatalf("err = %v, want transport error", err)
	}
}

func TestAbruptDisconnectEmitsTransportError(t *testing.T) {
	t.Parallel()

	srv := liveServer(t, func(conn *websocket.Conn) {
		var setup setupMessage
		_ = conn.ReadJSON(&setup)
		_ = conn.WriteJSON(map[string]any{"setupComplete": map[string]any{}})
		// Drop the connection without a close handshake.
		conn.Close()
	})

	ch := dial(t, srv, oracle.ChannelConfig{Voice: "Zephyr"})
	if _, ok := nextEvent(t, ch).(oracle.OpenedEvent); !ok {
		t.Fatal("first event is not OpenedEvent")
	}
	ev, ok := nextEvent(t, ch).(oracle.ErrorEvent)
	if !ok {
		t.Fatalf("event = %#v, want ErrorEvent", ev)
	}
	if ev.Err.Type != oracle.ErrTransport {
		t.Errorf("error type = %v, want transport", ev.Err.Type)
	}
}

func TestCloseIsIdempotentAndStopsSends(t *testing.T) {
	t.Parallel()

	srv := liveServer(t, func(conn *websocket.Conn) {
		var setup setupMessage
		_ = conn.ReadJSON(&setup)
		// Hold the connection open until the client closes it.
		conn.ReadMessage()
	})

	ch := dial(t, srv, oracle.ChannelConfig{Voice: "Zephyr"})
	if err := ch.Close(); err != nil {
		t.Fatalf("Close() = %v", err)
	}
	if err := ch.Close(); err != nil {
		t.Fatalf("second Close() = %v", err)
	}
	if err := ch.Send("AAAA"); err == nil {
		t.Error("Send after Close succeeded, want error")
	}
	if _, ok := <-ch.Events(); ok {
		t.Error("events channel still open after Close")
	}
}
