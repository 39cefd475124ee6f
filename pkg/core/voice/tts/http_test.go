package tts

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gorilla/websocket"
)

func TestHTTPProvider_Synthesize(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/tts/bytes" {
			t.Errorf("path = %s, want /tts/bytes", r.URL.Path)
		}
		var req synthesisRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		if req.Text != "hello" || req.Voice != "tutor-1" {
			t.Errorf("request = %+v", req)
		}
		w.Write([]byte{0x01, 0x02, 0x03})
	}))
	defer server.Close()

	provider := NewHTTPProvider(server.URL, "key")
	synth, err := provider.Synthesize(context.Background(), "hello", SynthesizeOptions{Voice: "tutor-1"})
	if err != nil {
		t.Fatalf("Synthesize() error = %v", err)
	}
	if len(synth.Audio) != 3 {
		t.Errorf("audio length = %d, want 3", len(synth.Audio))
	}
	if synth.Format != "pcm" || synth.SampleRate != 24000 {
		t.Errorf("defaults not applied: %+v", synth)
	}
}

func TestHTTPProvider_Available(t *testing.T) {
	if NewHTTPProvider("", "key").Available() {
		t.Error("provider without endpoint should not be available")
	}
	if NewHTTPProvider("https://speech.example", "").Available() {
		t.Error("provider without key should not be available")
	}
	if !NewHTTPProvider("https://speech.example", "key").Available() {
		t.Error("configured provider should be available")
	}
}

func TestHTTPProvider_SynthesizeWebsocket(t *testing.T) {
	upgrader := websocket.Upgrader{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("api_key") != "key" {
			t.Errorf("api_key missing from query")
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Fatalf("upgrade: %v", err)
		}
		defer conn.Close()

		var req wsRequest
		if err := conn.ReadJSON(&req); err != nil {
			t.Fatalf("read request: %v", err)
		}
		if req.Text != "hello" {
			t.Errorf("text = %q", req.Text)
		}

		for _, chunk := range [][]byte{{1, 2}, {3}} {
			conn.WriteJSON(wsResponse{Type: "chunk", Data: base64.StdEncoding.EncodeToString(chunk)})
		}
		conn.WriteJSON(wsResponse{Type: "done"})
	}))
	defer server.Close()

	provider := NewHTTPProvider(server.URL, "key", WithWebsocketTransport())
	synth, err := provider.Synthesize(context.Background(), "hello", SynthesizeOptions{})
	if err != nil {
		t.Fatalf("Synthesize() error = %v", err)
	}
	if len(synth.Audio) != 3 {
		t.Errorf("audio length = %d, want 3 (chunks concatenated)", len(synth.Audio))
	}
}

func TestHTTPProvider_SynthesizeWebsocketError(t *testing.T) {
	upgrader := websocket.Upgrader{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Fatalf("upgrade: %v", err)
		}
		defer conn.Close()
		var req wsRequest
		conn.ReadJSON(&req)
		conn.WriteJSON(wsResponse{Type: "error", Error: "voice not found"})
	}))
	defer server.Close()

	provider := NewHTTPProvider(server.URL, "key", WithWebsocketTransport())
	_, err := provider.Synthesize(context.Background(), "hello", SynthesizeOptions{})
	if err == nil {
		t.Fatal("expected stream error")
	}
}
