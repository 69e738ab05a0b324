package gateway

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/switchyard-ai/switchyard/internal/config"
	"github.com/switchyard-ai/switchyard/internal/sessions"
)

func newTestControlPlane(t *testing.T) (*sessions.Manager, *httptest.Server) {
	t.Helper()
	cfg := &config.Config{}
	cfg.ApplyDefaults()

	mgr := sessions.NewManager(config.SessionConfig{
		IdleTTL:     time.Hour,
		GracePeriod: -1, // remove ended sessions immediately
	}, func(string) sessions.Config {
		return sessions.Config{Model: "test-model"}
	}, nil)

	server, err := NewServer(ServerOptions{
		Config:   cfg,
		Sessions: mgr,
		Metrics:  NewMetrics(MetricsOptions{SessionCount: mgr.Count}),
	})
	if err != nil {
		t.Fatal(err)
	}
	ts := httptest.NewServer(server.Routes())
	t.Cleanup(ts.Close)
	return mgr, ts
}

func getJSON(t *testing.T, url string, out any) *http.Response {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("decode: %v", err)
		}
	}
	return resp
}

func TestHealthEndpoint(t *testing.T) {
	_, ts := newTestControlPlane(t)

	var payload struct {
		Status    string `json:"status"`
		Timestamp string `json:"timestamp"`
	}
	resp := getJSON(t, ts.URL+"/health", &payload)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if resp.Header.Get("Content-Type") != "application/json" {
		t.Errorf("content type = %q", resp.Header.Get("Content-Type"))
	}
	if resp.Header.Get("Content-Length") == "" {
		t.Error("content length not set")
	}
	if payload.Status != "ok" {
		t.Errorf("status = %q", payload.Status)
	}
	if _, err := time.Parse(time.RFC3339, payload.Timestamp); err != nil {
		t.Errorf("timestamp %q: %v", payload.Timestamp, err)
	}
}

func TestListSessions(t *testing.T) {
	mgr, ts := newTestControlPlane(t)

	var empty struct {
		Sessions []sessions.Summary `json:"sessions"`
	}
	if resp := getJSON(t, ts.URL+"/sessions", &empty); resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if empty.Sessions == nil || len(empty.Sessions) != 0 {
		t.Fatalf("sessions = %#v", empty.Sessions)
	}

	s1, _ := mgr.GetOrCreate("terminal:local")
	mgr.GetOrCreate("telegram:42")

	var listed struct {
		Sessions []sessions.Summary `json:"sessions"`
	}
	getJSON(t, ts.URL+"/sessions", &listed)
	if len(listed.Sessions) != 2 {
		t.Fatalf("sessions = %d", len(listed.Sessions))
	}
	if listed.Sessions[1].SessionID != s1.ID() {
		t.Errorf("ordering = %+v", listed.Sessions)
	}
	if listed.Sessions[1].Status != sessions.StateCreated {
		t.Errorf("status = %q", listed.Sessions[1].Status)
	}
}

func TestSteerSession(t *testing.T) {
	mgr, ts := newTestControlPlane(t)
	session, _ := mgr.GetOrCreate("terminal:local")

	post := func(path, body string) *http.Response {
		resp, err := http.Post(ts.URL+path, "application/json", strings.NewReader(body))
		if err != nil {
			t.Fatal(err)
		}
		t.Cleanup(func() { resp.Body.Close() })
		return resp
	}

	resp := post("/sessions/"+session.ID()+"/steer", `{"message":"look at the tests"}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	var payload struct {
		SessionID string `json:"sessionId"`
		Steered   bool   `json:"steered"`
		Message   string `json:"message"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		t.Fatal(err)
	}
	if !payload.Steered || payload.SessionID != session.ID() || payload.Message != "look at the tests" {
		t.Errorf("payload = %+v", payload)
	}
	queued := session.DrainSteering()
	if len(queued) != 1 || queued[0].Kind != sessions.SteerInject || queued[0].Content != "look at the tests" {
		t.Errorf("queued = %+v", queued)
	}

	if resp := post("/sessions/missing/steer", `{"message":"x"}`); resp.StatusCode != http.StatusNotFound {
		t.Errorf("unknown session status = %d", resp.StatusCode)
	}
	if resp := post("/sessions/"+session.ID()+"/steer", `{"message":""}`); resp.StatusCode != http.StatusBadRequest {
		t.Errorf("empty message status = %d", resp.StatusCode)
	}
	if resp := post("/sessions/"+session.ID()+"/steer", `not json`); resp.StatusCode != http.StatusBadRequest {
		t.Errorf("bad body status = %d", resp.StatusCode)
	}
	if resp := post("/sessions/"+session.ID()+"/steer", `{"message":"x","kind":"shout"}`); resp.StatusCode != http.StatusBadRequest {
		t.Errorf("bad kind status = %d", resp.StatusCode)
	}
}

func TestEndSession(t *testing.T) {
	mgr, ts := newTestControlPlane(t)
	session, _ := mgr.GetOrCreate("terminal:local")

	req, _ := http.NewRequest(http.MethodDelete, ts.URL+"/sessions/"+session.ID(), nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	var payload struct {
		SessionID string `json:"sessionId"`
		Ended     bool   `json:"ended"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		t.Fatal(err)
	}
	if !payload.Ended || payload.SessionID != session.ID() {
		t.Errorf("payload = %+v", payload)
	}
	if mgr.Count() != 0 {
		t.Errorf("sessions remaining = %d", mgr.Count())
	}

	req, _ = http.NewRequest(http.MethodDelete, ts.URL+"/sessions/missing", nil)
	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("unknown session status = %d", resp.StatusCode)
	}
}

func TestConfigSchemaEndpoint(t *testing.T) {
	_, ts := newTestControlPlane(t)

	resp, err := http.Get(ts.URL + "/config/schema")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatal(err)
	}
	var schema map[string]any
	if err := json.Unmarshal(body, &schema); err != nil {
		t.Fatalf("schema is not json: %v", err)
	}
	if !strings.Contains(string(body), "server") {
		t.Error("schema does not mention the server section")
	}
}

func TestMetricsEndpoint(t *testing.T) {
	mgr, ts := newTestControlPlane(t)
	mgr.GetOrCreate("terminal:local")

	resp, err := http.Get(ts.URL + "/metrics")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	body, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(body), "switchyard_sessions_active 1") {
		t.Errorf("metrics output missing session gauge:\n%s", body)
	}
}
