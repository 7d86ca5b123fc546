package http

import (
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"quiz-attempt-service/internal/domain"
)

func dialWS(t *testing.T, serverURL, attemptID, userID string) *websocket.Conn {
	t.Helper()
	wsURL := "ws" + strings.TrimPrefix(serverURL, "http") + "/ws/attempts/" + attemptID + "?userId=" + userID
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial %s: %v", wsURL, err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readNext(t *testing.T, conn *websocket.Conn) tickMessage {
	t.Helper()
	var msg tickMessage
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("read message: %v", err)
	}
	return msg
}

func TestWSStreamsCountdown(t *testing.T) {
	server, _ := newTestServer(t)

	resp, started := doJSON(t, http.MethodPost, server.URL+"/api/v1/courses/course-1/lessons/lesson-quiz/attempts", "u1", nil)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("start: got %d", resp.StatusCode)
	}
	conn := dialWS(t, server.URL, started["submissionId"].(string), "u1")

	msg := readNext(t, conn)
	if msg.Type != "tick" {
		t.Fatalf("expected tick, got %+v", msg)
	}
	if msg.TimeRemaining == nil || *msg.TimeRemaining != 300 {
		t.Fatalf("expected 300s remaining, got %+v", msg.TimeRemaining)
	}
}

func TestWSReportsFinalizedAttempt(t *testing.T) {
	server, clock := newTestServer(t)

	resp, started := doJSON(t, http.MethodPost, server.URL+"/api/v1/courses/course-1/lessons/lesson-quiz/attempts", "u1", nil)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("start: got %d", resp.StatusCode)
	}
	submissionID := started["submissionId"].(string)

	// Let the deadline pass; the feed itself detects and reports expiry.
	clock.Advance(10 * time.Minute)

	conn := dialWS(t, server.URL, submissionID, "u1")
	msg := readNext(t, conn)
	if msg.Type != "finalized" || msg.Status != domain.StatusExpired {
		t.Fatalf("expected finalized expired, got %+v", msg)
	}
	if _, _, err := conn.ReadMessage(); err == nil {
		t.Fatalf("expected connection closed after terminal event")
	}
}

func TestWSRejectsForeignAttempt(t *testing.T) {
	server, _ := newTestServer(t)

	resp, started := doJSON(t, http.MethodPost, server.URL+"/api/v1/courses/course-1/lessons/lesson-quiz/attempts", "u1", nil)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("start: got %d", resp.StatusCode)
	}
	conn := dialWS(t, server.URL, started["submissionId"].(string), "intruder")

	msg := readNext(t, conn)
	if msg.Type != "error" {
		t.Fatalf("expected error event for foreign attempt, got %+v", msg)
	}
}
