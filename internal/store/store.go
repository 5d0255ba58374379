package store

import (
	"context"
	"crypto/rand"
	"math/big"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/CodeAndHammer/kasvorto/internal/article"
	constants "github.com/CodeAndHammer/kasvorto/internal/constants"
	game "github.com/CodeAndHammer/kasvorto/internal/game"
	models "github.com/CodeAndHammer/kasvorto/internal/models"
	util "github.com/CodeAndHammer/kasvorto/internal/util"
)

// FetchFunc supplies the article triple for a new session. It must not fail;
// the article source falls back to canned content internally.
type FetchFunc func(ctx context.Context) article.Article

// Store maps game ids to sessions, creating each lazily and exactly once.
// Sessions live for the process lifetime.
type Store struct {
	mu       sync.RWMutex
	sessions map[string]*models.GameSession
	flights  singleflight.Group
	fetch    FetchFunc
}

func New(fetch FetchFunc) *Store {
	return &Store{
		sessions: make(map[string]*models.GameSession),
		fetch:    fetch,
	}
}

func (s *Store) Get(gameID string) (*models.GameSession, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[gameID]
	return sess, ok
}

// ResolveOrCreate returns the session for gameID, creating it on first use.
// Concurrent calls for the same new id share one flight, so the article
// fetch runs at most once per id and every caller gets the same session.
// Creation for one id never blocks lookups or creation for another.
func (s *Store) ResolveOrCreate(ctx context.Context, gameID string) *models.GameSession {
	if sess, ok := s.Get(gameID); ok {
		return sess
	}

	v, _, _ := s.flights.Do(gameID, func() (any, error) {
		if sess, ok := s.Get(gameID); ok {
			return sess, nil
		}
		art := s.fetch(ctx)
		sess := game.NewSession(gameID, art.Title, art.Text, art.Tokens)
		s.mu.Lock()
		s.sessions[gameID] = sess
		s.mu.Unlock()
		util.LogInfo("Game %q loaded article: %q", gameID, art.Title)
		return sess, nil
	})
	return v.(*models.GameSession)
}

func (s *Store) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

// NewGameID generates a shareable 6-character lowercase alphanumeric id.
// Collisions are accepted as negligible, matching the address space of the
// shared URLs.
func NewGameID() string {
	alphabet := constants.GameIDAlphabet
	b := make([]byte, constants.GameIDLength)
	for i := range b {
		n, err := rand.Int(rand.Reader, big.NewInt(int64(len(alphabet))))
		if err != nil {
			util.LogWarn("Error generating random game id byte: %v, using fallback", err)
			b[i] = alphabet[0]
			continue
		}
		b[i] = alphabet[n.Int64()]
	}
	return string(b)
}
