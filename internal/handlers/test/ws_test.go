package main

import (
	"context"
	"encoding/json"
	"net"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	article "github.com/CodeAndHammer/kasvorto/internal/article"
	constants "github.com/CodeAndHammer/kasvorto/internal/constants"
	game "github.com/CodeAndHammer/kasvorto/internal/game"
	handlers "github.com/CodeAndHammer/kasvorto/internal/handlers"
	hub "github.com/CodeAndHammer/kasvorto/internal/hub"
	models "github.com/CodeAndHammer/kasvorto/internal/models"
	store "github.com/CodeAndHammer/kasvorto/internal/store"
)

const testText = "Internet. The Internet is a global system of networks."

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	gin.SetMode(gin.TestMode)

	app := &models.App{
		StopwordSet:    map[string]struct{}{"the": {}, "is": {}, "a": {}, "of": {}},
		LimiterMap:     make(map[string]*models.RateLimiterWithTime),
		StartTime:      time.Now(),
		GuessRateRPS:   1000,
		GuessRateBurst: 1000,
	}
	fetch := func(ctx context.Context) article.Article {
		return article.Article{Title: "Internet", Text: testText, Tokens: game.Tokenize(testText)}
	}
	srv := handlers.New(app, store.New(fetch), hub.New())

	router := gin.New()
	router.GET(constants.RouteWS, srv.WSHandler)
	router.GET(constants.RouteHealthz, srv.HealthzHandler)

	ts := httptest.NewServer(router)
	t.Cleanup(ts.Close)
	return ts
}

func dialWS(t *testing.T, ts *httptest.Server) *websocket.Conn {
	t.Helper()
	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("websocket dial failed: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func sendJSON(t *testing.T, conn *websocket.Conn, payload any) {
	t.Helper()
	data, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		t.Fatalf("write message: %v", err)
	}
}

func join(t *testing.T, conn *websocket.Conn, gameID, name string) map[string]any {
	t.Helper()
	sendJSON(t, conn, map[string]any{"type": "join_game", "gameId": gameID, "name": name})
	msg := readMessage(t, conn, 5*time.Second)
	if msg["type"] != constants.MsgArticleInit {
		t.Fatalf("expected article_init, got %v", msg["type"])
	}
	return msg
}

func readMessage(t *testing.T, conn *websocket.Conn, timeout time.Duration) map[string]any {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(timeout))
	_, payload, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read websocket message: %v", err)
	}
	var msg map[string]any
	if err := json.Unmarshal(payload, &msg); err != nil {
		t.Fatalf("decode websocket message: %v", err)
	}
	return msg
}

func expectNoMessage(t *testing.T, conn *websocket.Conn, timeout time.Duration) {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(timeout))
	if _, _, err := conn.ReadMessage(); err == nil {
		t.Fatalf("expected no websocket message within %s", timeout)
	} else {
		netErr, ok := err.(net.Error)
		if !ok || !netErr.Timeout() {
			t.Fatalf("expected websocket timeout, got %v", err)
		}
	}
}

func guessWords(t *testing.T, msg map[string]any) []string {
	t.Helper()
	raw, ok := msg["guesses"].([]any)
	if !ok {
		t.Fatalf("message has no guesses array: %v", msg)
	}
	words := make([]string, 0, len(raw))
	for _, entry := range raw {
		record := entry.(map[string]any)
		words = append(words, record["word"].(string))
	}
	return words
}

func TestJoinReceivesRedactedInit(t *testing.T) {
	ts := newTestServer(t)
	conn := dialWS(t, ts)

	msg := join(t, conn, "abc123", "Ada")
	if msg["gameId"] != "abc123" {
		t.Errorf("gameId = %v", msg["gameId"])
	}
	text := msg["text"].(string)
	if strings.Contains(text, "global") || strings.Contains(text, "Internet") {
		t.Errorf("init text should be redacted, got %q", text)
	}
	if !strings.Contains(text, "█") || !strings.Contains(text, "The") {
		t.Errorf("init text should mask words and keep stopwords, got %q", text)
	}
	if msg["title"] != strings.Repeat("█", 8) {
		t.Errorf("init title should be redacted, got %q", msg["title"])
	}
	if words := guessWords(t, msg); len(words) != 0 {
		t.Errorf("fresh game should have empty history, got %v", words)
	}
}

func TestJoinGeneratesGameID(t *testing.T) {
	ts := newTestServer(t)
	conn := dialWS(t, ts)

	msg := join(t, conn, "", "Ada")
	id, _ := msg["gameId"].(string)
	if len(id) != constants.GameIDLength {
		t.Errorf("generated gameId = %q", id)
	}
}

func TestGuessBroadcastsToAllMembersInOrder(t *testing.T) {
	ts := newTestServer(t)
	ada := dialWS(t, ts)
	bea := dialWS(t, ts)

	join(t, ada, "order1", "Ada")
	join(t, bea, "order1", "Bea")

	sendJSON(t, ada, map[string]any{"type": "submit_guess", "word": "Global"})
	for _, conn := range []*websocket.Conn{ada, bea} {
		msg := readMessage(t, conn, 5*time.Second)
		if msg["type"] != constants.MsgArticleUpdate {
			t.Fatalf("expected article_update, got %v", msg["type"])
		}
		if !strings.Contains(msg["text"].(string), "global") {
			t.Errorf("guessed word should be revealed, got %q", msg["text"])
		}
	}

	sendJSON(t, bea, map[string]any{"type": "submit_guess", "word": "system"})
	for _, conn := range []*websocket.Conn{ada, bea} {
		msg := readMessage(t, conn, 5*time.Second)
		words := guessWords(t, msg)
		if len(words) != 2 || words[0] != "global" || words[1] != "system" {
			t.Errorf("every member must observe history in serialization order, got %v", words)
		}
	}
}

func TestDuplicateGuessProducesNoBroadcast(t *testing.T) {
	ts := newTestServer(t)
	conn := dialWS(t, ts)

	join(t, conn, "dupes1", "Ada")
	sendJSON(t, conn, map[string]any{"type": "submit_guess", "word": "global"})
	readMessage(t, conn, 5*time.Second)

	sendJSON(t, conn, map[string]any{"type": "submit_guess", "word": " GLOBAL "})
	expectNoMessage(t, conn, 300*time.Millisecond)
}

func TestGuessFromUnjoinedConnectionIgnored(t *testing.T) {
	ts := newTestServer(t)
	ada := dialWS(t, ts)
	stranger := dialWS(t, ts)

	join(t, ada, "late01", "Ada")

	sendJSON(t, stranger, map[string]any{"type": "submit_guess", "word": "global"})
	sendJSON(t, stranger, map[string]any{"type": "give_up"})
	expectNoMessage(t, ada, 300*time.Millisecond)
}

func TestMalformedMessageKeepsConnectionOpen(t *testing.T) {
	ts := newTestServer(t)
	conn := dialWS(t, ts)

	if err := conn.WriteMessage(websocket.TextMessage, []byte("not json")); err != nil {
		t.Fatalf("write malformed message: %v", err)
	}
	sendJSON(t, conn, map[string]any{"type": "mystery_move"})

	join(t, conn, "robust", "Ada")
}

func TestGiveUpRevealsArticleWithoutWinner(t *testing.T) {
	ts := newTestServer(t)
	ada := dialWS(t, ts)
	bea := dialWS(t, ts)

	join(t, ada, "giveup", "Ada")
	join(t, bea, "giveup", "Bea")

	sendJSON(t, ada, map[string]any{"type": "give_up"})
	for _, conn := range []*websocket.Conn{ada, bea} {
		msg := readMessage(t, conn, 5*time.Second)
		if msg["type"] != constants.MsgGameOver {
			t.Fatalf("expected game_over, got %v", msg["type"])
		}
		if msg["text"] != testText {
			t.Errorf("game_over text must be unredacted, got %q", msg["text"])
		}
		if winner, present := msg["winner"]; !present || winner != nil {
			t.Errorf("give-up winner must be null, got %v", winner)
		}
	}

	sendJSON(t, bea, map[string]any{"type": "give_up"})
	expectNoMessage(t, ada, 300*time.Millisecond)
}

func TestWinBroadcastsGameOverWithTitle(t *testing.T) {
	ts := newTestServer(t)
	conn := dialWS(t, ts)

	join(t, conn, "winner", "Ada")
	sendJSON(t, conn, map[string]any{"type": "submit_guess", "word": "internet"})

	msg := readMessage(t, conn, 5*time.Second)
	if msg["type"] != constants.MsgGameOver {
		t.Fatalf("expected game_over, got %v", msg["type"])
	}
	if msg["winner"] != "Internet" {
		t.Errorf("winner = %v, want article title", msg["winner"])
	}
	if msg["text"] != testText {
		t.Errorf("game_over text must be unredacted, got %q", msg["text"])
	}

	sendJSON(t, conn, map[string]any{"type": "submit_guess", "word": "system"})
	expectNoMessage(t, conn, 300*time.Millisecond)
}

func TestFanoutIsSessionScoped(t *testing.T) {
	ts := newTestServer(t)
	ada := dialWS(t, ts)
	cal := dialWS(t, ts)

	join(t, ada, "gamea1", "Ada")
	join(t, cal, "gameb1", "Cal")

	sendJSON(t, ada, map[string]any{"type": "submit_guess", "word": "global"})
	readMessage(t, ada, 5*time.Second)
	expectNoMessage(t, cal, 300*time.Millisecond)
}

func TestColorsFollowJoinOrder(t *testing.T) {
	ts := newTestServer(t)
	ada := dialWS(t, ts)
	bea := dialWS(t, ts)

	join(t, ada, "colors", "Ada")
	join(t, bea, "colors", "Bea")

	sendJSON(t, ada, map[string]any{"type": "submit_guess", "word": "global"})
	readMessage(t, ada, 5*time.Second)
	readMessage(t, bea, 5*time.Second)
	sendJSON(t, bea, map[string]any{"type": "submit_guess", "word": "system"})
	msg := readMessage(t, bea, 5*time.Second)
	readMessage(t, ada, 5*time.Second)

	raw := msg["guesses"].([]any)
	if len(raw) != 2 {
		t.Fatalf("expected 2 guesses, got %d", len(raw))
	}
	first := raw[0].(map[string]any)
	second := raw[1].(map[string]any)
	if first["color"] != constants.Palette[0] || second["color"] != constants.Palette[1] {
		t.Errorf("colors = %v, %v; want palette order %v, %v",
			first["color"], second["color"], constants.Palette[0], constants.Palette[1])
	}
	if first["name"] != "Ada" || second["name"] != "Bea" {
		t.Errorf("names = %v, %v", first["name"], second["name"])
	}
}
