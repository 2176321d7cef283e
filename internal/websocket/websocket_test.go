package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/torosent/sentimeter/internal/runstate"
)

// Helper function to create a test status stream server
func createTestWSServer(handler func(*websocket.Conn)) *httptest.Server {
	upgrader := websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			return true
		},
	}

	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		defer conn.Close()
		handler(conn)
	}))
}

func writeState(t *testing.T, conn *websocket.Conn, st runstate.State) {
	t.Helper()
	data, err := json.Marshal(st)
	if err != nil {
		t.Errorf("marshal state: %v", err)
		return
	}
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		t.Errorf("write state: %v", err)
	}
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func TestStreamURL(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{"http://localhost:8000", "ws://localhost:8000/api/loadtest/stream", false},
		{"https://example.com/", "wss://example.com/api/loadtest/stream", false},
		{"http://proxy/sentimeter?x=1", "ws://proxy/sentimeter/api/loadtest/stream", false},
		{"ws://localhost:8000", "ws://localhost:8000/api/loadtest/stream", false},
		{"ftp://localhost", "", true},
		{"http://", "", true},
	}
	for _, tt := range tests {
		got, err := StreamURL(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("StreamURL(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("StreamURL(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestFollowDeliversStatesUntilStop(t *testing.T) {
	server := createTestWSServer(func(conn *websocket.Conn) {
		writeState(t, conn, runstate.State{Status: runstate.StatusIdle})
		writeState(t, conn, runstate.State{Status: runstate.StatusRunning, RunID: "01A"})
		writeState(t, conn, runstate.State{
			Status: runstate.StatusFinished,
			RunID:  "01A",
			Result: &runstate.Result{SuccessfulRequests: 5, DurationSeconds: 1, RequestsPerMinute: 300},
		})
		// Hold the connection open until the client closes it.
		_, _, _ = conn.ReadMessage()
	})
	defer server.Close()

	client := NewClient(Config{URL: wsURL(server)})
	if err := client.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	defer client.Close()

	var seen []runstate.Status
	err := client.Follow(context.Background(), func(st runstate.State) error {
		seen = append(seen, st.Status)
		if st.Status == runstate.StatusFinished {
			if st.Result == nil || st.Result.RequestsPerMinute != 300 {
				t.Errorf("unexpected result %+v", st.Result)
			}
			return ErrStop
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Follow() error = %v", err)
	}
	if len(seen) != 3 || seen[0] != runstate.StatusIdle || seen[2] != runstate.StatusFinished {
		t.Fatalf("seen = %v", seen)
	}

	m := client.Metrics()
	if m.MessagesReceived != 3 || m.BytesReceived == 0 || m.Errors != 0 {
		t.Errorf("unexpected metrics %+v", m)
	}
}

func TestFollowServerCloseIsClean(t *testing.T) {
	server := createTestWSServer(func(conn *websocket.Conn) {
		writeState(t, conn, runstate.State{Status: runstate.StatusIdle})
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "bye"),
			time.Now().Add(time.Second))
	})
	defer server.Close()

	client := NewClient(Config{URL: wsURL(server)})
	if err := client.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	defer client.Close()

	calls := 0
	if err := client.Follow(context.Background(), func(runstate.State) error { calls++; return nil }); err != nil {
		t.Fatalf("Follow() error = %v", err)
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}

func TestFollowContextCancel(t *testing.T) {
	release := make(chan struct{})
	server := createTestWSServer(func(conn *websocket.Conn) {
		writeState(t, conn, runstate.State{Status: runstate.StatusRunning})
		<-release
	})
	defer server.Close()
	defer close(release)

	client := NewClient(Config{URL: wsURL(server)})
	if err := client.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	defer client.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	err := client.Follow(ctx, func(runstate.State) error { return nil })
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Follow() error = %v, want deadline exceeded", err)
	}
}

func TestFollowCallbackError(t *testing.T) {
	server := createTestWSServer(func(conn *websocket.Conn) {
		writeState(t, conn, runstate.State{Status: runstate.StatusIdle})
		_, _, _ = conn.ReadMessage()
	})
	defer server.Close()

	client := NewClient(Config{URL: wsURL(server)})
	if err := client.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	defer client.Close()

	boom := errors.New("boom")
	if err := client.Follow(context.Background(), func(runstate.State) error { return boom }); !errors.Is(err, boom) {
		t.Fatalf("Follow() error = %v, want boom", err)
	}
}

func TestNextRejectsInvalidJSON(t *testing.T) {
	server := createTestWSServer(func(conn *websocket.Conn) {
		_ = conn.WriteMessage(websocket.TextMessage, []byte("not json"))
		_, _, _ = conn.ReadMessage()
	})
	defer server.Close()

	client := NewClient(Config{URL: wsURL(server)})
	if err := client.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	defer client.Close()

	if _, err := client.Next(); err == nil {
		t.Fatal("Next() expected decode error")
	}
	if client.Metrics().Errors != 1 {
		t.Errorf("Errors = %d, want 1", client.Metrics().Errors)
	}
}

func TestConnectErrors(t *testing.T) {
	client := NewClient(Config{URL: "ws://127.0.0.1:1/stream", HandshakeTimeout: time.Second})
	if err := client.Connect(context.Background()); err == nil {
		t.Fatal("Connect() expected error for closed port")
	}
	if _, err := client.Next(); err == nil {
		t.Fatal("Next() expected error when not connected")
	}
	if err := client.Close(); err != nil {
		t.Fatalf("Close() on unconnected client = %v", err)
	}

	plain := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusForbidden)
	}))
	defer plain.Close()
	client = NewClient(Config{URL: wsURL(plain)})
	err := client.Connect(context.Background())
	if err == nil || !strings.Contains(err.Error(), "403") {
		t.Fatalf("Connect() error = %v, want status 403", err)
	}
}

func TestConnectTwice(t *testing.T) {
	server := createTestWSServer(func(conn *websocket.Conn) {
		_, _, _ = conn.ReadMessage()
	})
	defer server.Close()

	client := NewClient(Config{URL: wsURL(server)})
	if err := client.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	defer client.Close()
	if err := client.Connect(context.Background()); err == nil {
		t.Fatal("second Connect() expected error")
	}
}
