package channels

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/websocket"

	"github.com/switchyard-ai/switchyard/internal/canvas"
	"github.com/switchyard-ai/switchyard/internal/config"
	"github.com/switchyard-ai/switchyard/pkg/models"
)

func TestCanvasFrameTranslation(t *testing.T) {
	tests := []struct {
		name  string
		frame canvasClientFrame
		want  string
		ok    bool
	}{
		{
			name:  "message passes through",
			frame: canvasClientFrame{Type: c2sMessage, Text: "hello"},
			want:  "hello",
			ok:    true,
		},
		{
			name:  "click",
			frame: canvasClientFrame{Type: c2sClick, Component: "btn-1", Action: "submit"},
			want:  "[USER_CLICK] Component: btn-1 Action: submit",
			ok:    true,
		},
		{
			name:  "click default action",
			frame: canvasClientFrame{Type: c2sClick, Component: "btn-1"},
			want:  "[USER_CLICK] Component: btn-1 Action: click",
			ok:    true,
		},
		{
			name:  "input",
			frame: canvasClientFrame{Type: c2sInput, Component: "name", Value: "Ada"},
			want:  "[USER_INPUT] Component: name Value: Ada",
			ok:    true,
		},
		{
			name: "form submit sorts fields",
			frame: canvasClientFrame{
				Type:      c2sFormSubmit,
				Component: "signup",
				Fields:    map[string]string{"email": "a@b.c", "age": "30"},
			},
			want: "[FORM_SUBMIT] Component: signup Fields: age=30, email=a@b.c",
			ok:   true,
		},
		{
			name:  "select",
			frame: canvasClientFrame{Type: c2sSelect, Component: "color", Value: "red"},
			want:  "[USER_SELECT] Component: color Value: red",
			ok:    true,
		},
		{
			name:  "steer",
			frame: canvasClientFrame{Type: c2sSteer, Kind: "inject", Content: "focus on tests"},
			want:  "[STEER:inject] focus on tests",
			ok:    true,
		},
		{
			name:  "abort",
			frame: canvasClientFrame{Type: c2sAbort, Reason: "changed my mind"},
			want:  "[ABORT] changed my mind",
			ok:    true,
		},
		{
			name:  "abort default reason",
			frame: canvasClientFrame{Type: c2sAbort},
			want:  "[ABORT] user abort",
			ok:    true,
		},
		{
			name:  "drag is transport level",
			frame: canvasClientFrame{Type: c2sDrag, NodeID: "n1"},
			ok:    false,
		},
		{
			name:  "ping is transport level",
			frame: canvasClientFrame{Type: c2sPing, Timestamp: 123},
			ok:    false,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := translateCanvasFrame(&tt.frame)
			if ok != tt.ok {
				t.Fatalf("ok = %v, want %v", ok, tt.ok)
			}
			if ok && got != tt.want {
				t.Errorf("text = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestCanvasFrameValidation(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		ok   bool
	}{
		{"valid message", `{"type":"c2s:message","text":"hi"}`, true},
		{"valid ping", `{"type":"c2s:ping","timestamp":42}`, true},
		{"valid drag", `{"type":"c2s:drag","nodeId":"n1","position":{"x":1,"y":2}}`, true},
		{"unknown type", `{"type":"c2s:bogus"}`, false},
		{"missing type", `{"text":"hi"}`, false},
		{"message without text", `{"type":"c2s:message"}`, false},
		{"empty message text", `{"type":"c2s:message","text":""}`, false},
		{"click without component", `{"type":"c2s:click","action":"tap"}`, false},
		{"steer with bad kind", `{"type":"c2s:steer","kind":"shout","content":"x"}`, false},
		{"drag without position", `{"type":"c2s:drag","nodeId":"n1"}`, false},
		{"not json", `{"type":`, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := decodeCanvasFrame([]byte(tt.raw))
			if (err == nil) != tt.ok {
				t.Errorf("err = %v, want ok=%v", err, tt.ok)
			}
		})
	}
}

func newCanvasTestServer(t *testing.T, cfg config.CanvasChannelConfig) (*CanvasChannel, *canvas.Manager, *httptest.Server) {
	t.Helper()
	boards := canvas.NewManager(0)
	ch, err := NewCanvasChannel(cfg, boards, nil)
	if err != nil {
		t.Fatal(err)
	}
	if err := ch.Start(context.Background()); err != nil {
		t.Fatal(err)
	}

	mux := http.NewServeMux()
	mux.Handle("/ws/{sessionId}", ch)
	server := httptest.NewServer(mux)
	t.Cleanup(func() {
		_ = ch.Stop(context.Background())
		server.Close()
	})
	return ch, boards, server
}

func dialCanvas(t *testing.T, server *httptest.Server, sessionID, token string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(server.URL, "http") + "/ws/" + sessionID
	if token != "" {
		url += "?token=" + token
	}
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = ws.Close() })
	return ws
}

func readCanvasFrame(t *testing.T, ws *websocket.Conn) canvasServerFrame {
	t.Helper()
	_ = ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := ws.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var frame canvasServerFrame
	if err := json.Unmarshal(data, &frame); err != nil {
		t.Fatalf("decode %q: %v", data, err)
	}
	return frame
}

func writeCanvasFrame(t *testing.T, ws *websocket.Conn, frame any) {
	t.Helper()
	data, err := json.Marshal(frame)
	if err != nil {
		t.Fatal(err)
	}
	if err := ws.WriteMessage(websocket.TextMessage, data); err != nil {
		t.Fatalf("write: %v", err)
	}
}

func TestCanvasChannelRoundTrip(t *testing.T) {
	ch, boards, server := newCanvasTestServer(t, config.CanvasChannelConfig{Enabled: true})
	rec := &inboundRecorder{}
	ch.OnMessage(rec.handle)

	ws := dialCanvas(t, server, "s1", "")

	// The first frame is always the board snapshot.
	snap := readCanvasFrame(t, ws)
	if snap.Type != s2cCanvasSnapshot || snap.Snapshot == nil {
		t.Fatalf("first frame = %+v", snap)
	}
	if len(snap.Snapshot.Nodes) != 0 {
		t.Errorf("fresh board has %d nodes", len(snap.Snapshot.Nodes))
	}

	// A ping/pong roundtrip proves the server is consuming frames.
	writeCanvasFrame(t, ws, canvasClientFrame{Type: c2sPing, Timestamp: 12345})
	pong := readCanvasFrame(t, ws)
	if pong.Type != s2cPong || pong.Timestamp != 12345 {
		t.Fatalf("pong = %+v", pong)
	}

	// UI events become bracketed inbound text keyed to the session.
	writeCanvasFrame(t, ws, canvasClientFrame{Type: c2sMessage, Text: "hello"})
	writeCanvasFrame(t, ws, canvasClientFrame{Type: c2sClick, Component: "btn-1", Action: "submit"})

	deadline := time.Now().Add(2 * time.Second)
	for len(rec.all()) < 2 {
		if time.Now().After(deadline) {
			t.Fatalf("got %d inbound messages", len(rec.all()))
		}
		time.Sleep(5 * time.Millisecond)
	}
	msgs := rec.all()
	if msgs[0].Text != "hello" {
		t.Errorf("message text = %q", msgs[0].Text)
	}
	if msgs[1].Text != "[USER_CLICK] Component: btn-1 Action: submit" {
		t.Errorf("click text = %q", msgs[1].Text)
	}
	if key := msgs[0].ContextKey(); key != "canvas:s1" {
		t.Errorf("context key = %q", key)
	}

	// Board mutations stream to the client as change frames.
	if _, err := boards.Board("s1").AddNode(
		models.CanvasComponent{ID: "n1", Type: "card"},
		models.CanvasPosition{X: 1, Y: 2},
	); err != nil {
		t.Fatal(err)
	}
	change := readCanvasFrame(t, ws)
	if change.Type != s2cCanvasChange || change.Change == nil || change.Change.Action != "add" {
		t.Fatalf("change = %+v", change)
	}

	// Drag moves the node directly and mirrors the move back.
	writeCanvasFrame(t, ws, canvasClientFrame{
		Type:     c2sDrag,
		NodeID:   "n1",
		Position: &models.CanvasPosition{X: 9, Y: 9},
	})
	move := readCanvasFrame(t, ws)
	if move.Type != s2cCanvasChange || move.Change == nil || move.Change.Action != "move" {
		t.Fatalf("move = %+v", move)
	}
	if got := boards.Board("s1").Snapshot().Nodes[0].Position.X; got != 9 {
		t.Errorf("node x = %v", got)
	}
	if len(rec.all()) != 2 {
		t.Errorf("transport frames produced inbound messages: %d", len(rec.all()))
	}

	// Outbound text reaches the attached client as a completion frame.
	result := ch.Send(context.Background(), "s1", &models.OutboundMessage{Text: "done"})
	if !result.Success {
		t.Fatalf("send = %+v", result)
	}
	complete := readCanvasFrame(t, ws)
	if complete.Type != s2cTextComplete || complete.Text != "done" {
		t.Fatalf("complete = %+v", complete)
	}

	ch.TextDelta("s1", "par")
	delta := readCanvasFrame(t, ws)
	if delta.Type != s2cTextDelta || delta.Text != "par" {
		t.Fatalf("delta = %+v", delta)
	}

	ch.AgentStatus("s1", "thinking")
	status := readCanvasFrame(t, ws)
	if status.Type != s2cAgentStatus || status.Status != "thinking" {
		t.Fatalf("status = %+v", status)
	}
}

func TestCanvasChannelAuth(t *testing.T) {
	const secret = "canvas-secret"
	_, _, server := newCanvasTestServer(t, config.CanvasChannelConfig{Enabled: true, AuthToken: secret})

	url := "ws" + strings.TrimPrefix(server.URL, "http") + "/ws/s1"
	if _, resp, err := websocket.DefaultDialer.Dial(url, nil); err == nil {
		t.Fatal("dial without token succeeded")
	} else if resp == nil || resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("response = %+v", resp)
	}

	if _, resp, err := websocket.DefaultDialer.Dial(url+"?token=garbage", nil); err == nil {
		t.Fatal("dial with garbage token succeeded")
	} else if resp == nil || resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("response = %+v", resp)
	}

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": "user-1",
		"exp": time.Now().Add(time.Hour).Unix(),
	}).SignedString([]byte(secret))
	if err != nil {
		t.Fatal(err)
	}
	ws, _, err := websocket.DefaultDialer.Dial(url+"?token="+token, nil)
	if err != nil {
		t.Fatalf("dial with valid token: %v", err)
	}
	defer ws.Close()
	if frame := readCanvasFrame(t, ws); frame.Type != s2cCanvasSnapshot {
		t.Fatalf("first frame = %+v", frame)
	}
}

func TestCanvasSendWithoutClients(t *testing.T) {
	boards := canvas.NewManager(0)
	ch, err := NewCanvasChannel(config.CanvasChannelConfig{Enabled: true}, boards, nil)
	if err != nil {
		t.Fatal(err)
	}
	result := ch.Send(context.Background(), "nobody", &models.OutboundMessage{Text: "hi"})
	if result.Success {
		t.Fatalf("send = %+v", result)
	}
}
