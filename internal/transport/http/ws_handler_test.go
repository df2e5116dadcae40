package http

import (
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

func TestWebSocketCompositionFeed(t *testing.T) {
	server, service := newTestServer(t, samplePool(60))

	u := "ws" + server.URL[len("http"):] + "/ws/composition-logs?limit=5"
	conn, _, err := websocket.DefaultDialer.Dial(u, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	// Expect the recent page first.
	msgType, payload := readNext(conn, t, "recent")
	var recent []map[string]any
	if err := json.Unmarshal(payload, &recent); err != nil {
		t.Fatalf("decode recent: %v", err)
	}
	if len(recent) != 0 {
		t.Fatalf("expected empty recent page, got %d entries (%s)", len(recent), msgType)
	}

	waitForSubscriber(t, func() int { return service.Feed().Subscribers() })

	status, body := doJSON(t, http.MethodPost, server.URL+"/admin/daily-quiz/compose", map[string]any{"dropAtUTC": "2025-03-02T17:00:00Z"})
	if status != http.StatusCreated {
		t.Fatalf("compose: %d %v", status, body)
	}
	quizID := body["dailyQuiz"].(map[string]any)["id"]

	_, payload = readNext(conn, t, "compositionLog")
	var entry map[string]any
	if err := json.Unmarshal(payload, &entry); err != nil {
		t.Fatalf("decode entry: %v", err)
	}
	if entry["success"] != true || entry["quizId"] != quizID {
		t.Fatalf("unexpected log entry %v", entry)
	}

	// Ask for another page.
	if err := conn.WriteJSON(map[string]any{"type": "recent", "payload": map[string]any{"limit": 1}}); err != nil {
		t.Fatalf("write recent: %v", err)
	}
	_, payload = readNext(conn, t, "recent")
	if err := json.Unmarshal(payload, &recent); err != nil {
		t.Fatalf("decode page: %v", err)
	}
	if len(recent) != 1 {
		t.Fatalf("expected one entry, got %d", len(recent))
	}

	if err := conn.WriteJSON(map[string]any{"type": "answer"}); err != nil {
		t.Fatalf("write unsupported: %v", err)
	}
	readNext(conn, t, "error")
}

func TestWebSocketRejectsBadLimit(t *testing.T) {
	server, _ := newTestServer(t, samplePool(10))

	u := "ws" + server.URL[len("http"):] + "/ws/composition-logs?limit=1000"
	_, resp, err := websocket.DefaultDialer.Dial(u, nil)
	if err == nil {
		t.Fatalf("expected dial to fail")
	}
	if resp == nil || resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 response, got %v", resp)
	}
}

func TestEnqueueStopsWhenWriterExits(t *testing.T) {
	send := make(chan outboundMessage[any], 1)
	writerDone := make(chan struct{})

	if !enqueue(send, writerDone, outboundMessage[any]{Type: "recent"}) {
		t.Fatalf("expected first message to be buffered")
	}

	// The buffer is now full; a stopped writer must not leave the caller stuck.
	close(writerDone)
	result := make(chan bool, 1)
	go func() { result <- enqueue(send, writerDone, outboundMessage[any]{Type: "error"}) }()
	select {
	case ok := <-result:
		if ok {
			t.Fatalf("expected enqueue to report the stopped writer")
		}
	case <-time.After(time.Second):
		t.Fatalf("enqueue blocked on a full buffer after the writer exited")
	}
}

func readNext(conn *websocket.Conn, t *testing.T, expect string) (string, json.RawMessage) {
	t.Helper()
	var msg struct {
		Type    string          `json:"type"`
		Payload json.RawMessage `json:"payload"`
	}
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("read json: %v", err)
	}
	if expect != "" && msg.Type != expect {
		t.Fatalf("expected type %s, got %s", expect, msg.Type)
	}
	return msg.Type, msg.Payload
}

// waitForSubscriber blocks until the handler has subscribed to the feed,
// which happens just after the recent page is queued.
func waitForSubscriber(t *testing.T, count func() int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for count() == 0 {
		if time.Now().After(deadline) {
			t.Fatalf("handler never subscribed to the log feed")
		}
		time.Sleep(5 * time.Millisecond)
	}
}
