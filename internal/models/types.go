package models

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// GameSession is one in-progress or finished game, keyed by a shareable id.
// ID, ArticleTitle, ArticleText, Tokens, WordSet and TitleWords are fixed at
// creation. Everything else is guarded by Mu; once Ended flips true the
// session is frozen except for reads.
type GameSession struct {
	ID           string
	ArticleTitle string
	ArticleText  string
	Tokens       []string
	// WordSet holds every token lowercased, for guess correctness checks.
	WordSet map[string]struct{}
	// TitleWords is the normalized title word set required to win. Empty
	// means the game can only end via give-up.
	TitleWords []string

	Mu             sync.Mutex
	GuessedWords   map[string]struct{}
	GuessHistory   []GuessRecord
	Ended          bool
	WinnerTitle    string
	AssignedColors []string
	CreatedAt      time.Time
}

// GuessRecord is immutable once appended to a session's history.
type GuessRecord struct {
	Word    string `json:"word"`
	Name    string `json:"name"`
	Color   string `json:"color"`
	Correct bool   `json:"correct"`
}

// Participant binds a live connection to a session. Color is fixed at join
// time by join order; reconnecting yields a new join index and color.
type Participant struct {
	ConnID string
	GameID string
	Name   string
	Color  string
}

// ClientMessage is the closed inbound variant set. Unknown types are dropped
// at the boundary.
type ClientMessage struct {
	Type   string `json:"type"`
	GameID string `json:"gameId,omitempty"`
	Name   string `json:"name,omitempty"`
	Word   string `json:"word,omitempty"`
}

type ArticleInit struct {
	Type    string        `json:"type"`
	GameID  string        `json:"gameId"`
	Text    string        `json:"text"`
	Title   string        `json:"title"`
	Guesses []GuessRecord `json:"guesses"`
}

type ArticleUpdate struct {
	Type    string        `json:"type"`
	Text    string        `json:"text"`
	Guesses []GuessRecord `json:"guesses"`
}

type GameOver struct {
	Type   string  `json:"type"`
	Text   string  `json:"text"`
	Winner *string `json:"winner"`
}

// RateLimiterWithTime tracks last access for TTL cleanup.
type RateLimiterWithTime struct {
	Limiter    *rate.Limiter
	LastAccess time.Time
}

type App struct {
	StopwordSet         map[string]struct{}
	LimiterMap          map[string]*RateLimiterWithTime
	LimiterMutex        sync.RWMutex
	IsProduction        bool
	StartTime           time.Time
	StaticCacheAge      time.Duration
	RateLimitRPS        int
	RateLimitBurst      int
	RateLimiterTTL      time.Duration
	GuessRateRPS        int
	GuessRateBurst      int
	ArticleFetchTimeout time.Duration
}
