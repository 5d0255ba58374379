package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"runtime"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	constants "github.com/CodeAndHammer/kasvorto/internal/constants"
	game "github.com/CodeAndHammer/kasvorto/internal/game"
	hub "github.com/CodeAndHammer/kasvorto/internal/hub"
	models "github.com/CodeAndHammer/kasvorto/internal/models"
	store "github.com/CodeAndHammer/kasvorto/internal/store"
	util "github.com/CodeAndHammer/kasvorto/internal/util"
)

// Server owns the handler surface: the websocket game channel plus the page
// and health routes.
type Server struct {
	app   *models.App
	store *store.Store
	hub   *hub.Hub
}

func New(app *models.App, st *store.Store, h *hub.Hub) *Server {
	return &Server{app: app, store: st, hub: h}
}

var wsUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// WSHandler upgrades the connection and runs its read loop until disconnect.
// Malformed or unknown messages are dropped; the connection stays open.
func (s *Server) WSHandler(c *gin.Context) {
	conn, err := wsUpgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		util.LogWarn("Websocket upgrade failed: %v", err)
		return
	}
	util.LogInfo("Websocket connected remote=%s", c.Request.RemoteAddr)
	s.readLoop(conn)
}

func (s *Server) readLoop(conn *websocket.Conn) {
	defer func() {
		s.hub.Unbind(conn)
		_ = conn.Close()
	}()

	rps := s.app.GuessRateRPS
	if rps <= 0 {
		rps = 1
	}
	guessLimiter := rate.NewLimiter(rate.Every(time.Second/time.Duration(rps)), s.app.GuessRateBurst)

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			util.LogInfo("Websocket disconnected: %v", err)
			return
		}

		var msg models.ClientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			util.LogWarn("Dropping malformed message: %v", err)
			continue
		}

		switch msg.Type {
		case constants.MsgJoinGame:
			s.handleJoin(conn, msg)
		case constants.MsgSubmitGuess:
			if !guessLimiter.Allow() {
				continue
			}
			s.handleGuess(conn, msg)
		case constants.MsgGiveUp:
			s.handleGiveUp(conn)
		default:
			util.LogWarn("Dropping message of unknown type %q", msg.Type)
		}
	}
}

// handleJoin resolves or creates the session, binds the connection with a
// color derived from join order, and sends the init view to the joiner only.
// Creation uses a background context: the fetch is shared across concurrent
// joiners and must not die with the first one.
func (s *Server) handleJoin(conn *websocket.Conn, msg models.ClientMessage) {
	gameID := strings.TrimSpace(msg.GameID)
	if gameID == "" {
		gameID = store.NewGameID()
		util.LogInfo("Generated game id %q", gameID)
	}

	sess := s.store.ResolveOrCreate(context.Background(), gameID)

	sess.Mu.Lock()
	defer sess.Mu.Unlock()

	color := constants.Palette[len(sess.AssignedColors)%len(constants.Palette)]
	sess.AssignedColors = append(sess.AssignedColors, color)
	p := s.hub.Bind(conn, gameID, strings.TrimSpace(msg.Name), color)
	util.LogInfo("Player %q joined game %q as color %s", p.Name, gameID, color)

	s.hub.Send(conn, models.ArticleInit{
		Type:    constants.MsgArticleInit,
		GameID:  gameID,
		Text:    game.Render(sess, s.app.StopwordSet),
		Title:   game.RenderTitle(sess, s.app.StopwordSet),
		Guesses: game.HistorySnapshot(sess),
	})
}

func (s *Server) handleGuess(conn *websocket.Conn, msg models.ClientMessage) {
	p, ok := s.hub.Lookup(conn)
	if !ok {
		return
	}
	sess, ok := s.store.Get(p.GameID)
	if !ok {
		return
	}

	sess.Mu.Lock()
	defer sess.Mu.Unlock()

	switch game.SubmitGuess(sess, p, msg.Word) {
	case game.GuessWon:
		s.hub.Broadcast(p.GameID, models.GameOver{
			Type:   constants.MsgGameOver,
			Text:   sess.ArticleText,
			Winner: &sess.WinnerTitle,
		})
	case game.GuessAccepted:
		s.hub.Broadcast(p.GameID, models.ArticleUpdate{
			Type:    constants.MsgArticleUpdate,
			Text:    game.Render(sess, s.app.StopwordSet),
			Guesses: game.HistorySnapshot(sess),
		})
	case game.GuessIgnored:
	}
}

func (s *Server) handleGiveUp(conn *websocket.Conn) {
	p, ok := s.hub.Lookup(conn)
	if !ok {
		return
	}
	sess, ok := s.store.Get(p.GameID)
	if !ok {
		return
	}

	sess.Mu.Lock()
	defer sess.Mu.Unlock()

	if !game.GiveUp(sess) {
		return
	}
	s.hub.Broadcast(p.GameID, models.GameOver{
		Type:   constants.MsgGameOver,
		Text:   sess.ArticleText,
		Winner: nil,
	})
}

func (s *Server) HomeHandler(c *gin.Context) {
	c.HTML(http.StatusOK, "index.html", gin.H{
		"title":  "Kasvorto - Guess the Hidden Article",
		"gameId": "",
	})
}

func (s *Server) GameHandler(c *gin.Context) {
	c.HTML(http.StatusOK, "index.html", gin.H{
		"title":  "Kasvorto - Guess the Hidden Article",
		"gameId": c.Param("id"),
	})
}

func (s *Server) HealthzHandler(c *gin.Context) {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	uptime := time.Since(s.app.StartTime)

	s.app.LimiterMutex.RLock()
	limiterCount := len(s.app.LimiterMap)
	s.app.LimiterMutex.RUnlock()

	c.JSON(http.StatusOK, gin.H{
		"status":             "ok",
		"env":                map[bool]string{true: "production", false: "development"}[s.app.IsProduction],
		"stopwords_loaded":   len(s.app.StopwordSet),
		"active_games":       s.store.Count(),
		"active_connections": s.hub.ClientCount(),
		"active_limiters":    limiterCount,
		"memory_alloc_mb":    m.Alloc / 1024 / 1024,
		"memory_sys_mb":      m.Sys / 1024 / 1024,
		"memory_gc_count":    m.NumGC,
		"uptime":             util.FormatUptime(uptime),
		"timestamp":          time.Now().UTC().Format(time.RFC3339),
	})
}
