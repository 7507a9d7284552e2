package api

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/iacondiego/demo-agente-n8n/internal/correlation"
)

func dialStream(t *testing.T, ts *httptest.Server, sessionID string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/webhook/stream?sessionId=" + sessionID
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial stream: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestStreamDeliversDeposit(t *testing.T) {
	srv := newTestServer(t)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	conn := dialStream(t, ts, "abc")

	go func() {
		time.Sleep(20 * time.Millisecond)
		srv.correlation.Deposit("abc", &correlation.Result{Response: "Hola", Success: true})
	}()

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var msg pollDeliveredResponse
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("read stream: %v", err)
	}
	if !msg.HasResponse {
		t.Error("hasResponse = false, want true")
	}
	if msg.Response != "Hola" {
		t.Errorf("response = %q, want %q", msg.Response, "Hola")
	}
}

// Stream delivery is a withdraw: a later poll read finds nothing.
func TestStreamConsumesResult(t *testing.T) {
	srv := newTestServer(t)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	conn := dialStream(t, ts, "abc")
	srv.correlation.Deposit("abc", &correlation.Result{Response: "Hola", Success: true})

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var msg pollDeliveredResponse
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("read stream: %v", err)
	}

	if _, ok := srv.correlation.Withdraw("abc"); ok {
		t.Error("result still pending after stream delivery, want consumed")
	}
}

func TestStreamRequiresSessionID(t *testing.T) {
	srv := newTestServer(t)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/api/webhook/stream")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
}
