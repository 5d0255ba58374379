package game

import (
	"encoding/json"
	"os"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/samber/lo"

	constants "github.com/CodeAndHammer/kasvorto/internal/constants"
	models "github.com/CodeAndHammer/kasvorto/internal/models"
	util "github.com/CodeAndHammer/kasvorto/internal/util"
)

// GuessOutcome tells the caller which broadcast, if any, a guess produced.
type GuessOutcome int

const (
	GuessIgnored GuessOutcome = iota
	GuessAccepted
	GuessWon
)

func isWordRune(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_'
}

// Tokenize splits text into maximal runs of word runes and non-word runes.
// Concatenating the result reproduces the input exactly.
func Tokenize(text string) []string {
	var tokens []string
	var b strings.Builder
	inWord := false
	for _, r := range text {
		word := isWordRune(r)
		if b.Len() > 0 && word != inWord {
			tokens = append(tokens, b.String())
			b.Reset()
		}
		inWord = word
		b.WriteRune(r)
	}
	if b.Len() > 0 {
		tokens = append(tokens, b.String())
	}
	return tokens
}

// IsGuessableWord reports whether a token is a word run. Tokens are
// homogeneous, so checking the first rune is enough.
func IsGuessableWord(token string) bool {
	r, _ := utf8.DecodeRuneInString(token)
	return r != utf8.RuneError && isWordRune(r)
}

// NewSession builds the immutable half of a GameSession from a fetched
// article. Mutation happens under the session's own mutex afterwards.
func NewSession(id, title, text string, tokens []string) *models.GameSession {
	wordSet := make(map[string]struct{}, len(tokens))
	for _, token := range tokens {
		wordSet[strings.ToLower(token)] = struct{}{}
	}
	return &models.GameSession{
		ID:           id,
		ArticleTitle: title,
		ArticleText:  text,
		Tokens:       tokens,
		WordSet:      wordSet,
		TitleWords:   TitleWords(title),
		GuessedWords: make(map[string]struct{}),
		GuessHistory: []models.GuessRecord{},
		CreatedAt:    time.Now(),
	}
}

func renderToken(sess *models.GameSession, stopwords map[string]struct{}, token string) string {
	if sess.Ended || !IsGuessableWord(token) {
		return token
	}
	lower := strings.ToLower(token)
	if _, stop := stopwords[lower]; stop {
		return token
	}
	if _, guessed := sess.GuessedWords[lower]; guessed {
		return token
	}
	return strings.Repeat(constants.MaskGlyph, utf8.RuneCountInString(token))
}

// Render produces the article text a client sees: unguessed words masked one
// glyph per rune, everything else verbatim. Callers must hold the session
// mutex unless the session is not yet published.
func Render(sess *models.GameSession, stopwords map[string]struct{}) string {
	var b strings.Builder
	b.Grow(len(sess.ArticleText))
	for _, token := range sess.Tokens {
		b.WriteString(renderToken(sess, stopwords, token))
	}
	return b.String()
}

// RenderTitle applies the same redaction rule to the article title, so the
// answer does not leak through the init payload.
func RenderTitle(sess *models.GameSession, stopwords map[string]struct{}) string {
	var b strings.Builder
	for _, token := range Tokenize(sess.ArticleTitle) {
		b.WriteString(renderToken(sess, stopwords, token))
	}
	return b.String()
}

// TitleWords normalizes a title into the word set required to win:
// parenthetical content removed, non-word non-space runes stripped,
// lowercased, split on whitespace.
func TitleWords(title string) []string {
	var b strings.Builder
	depth := 0
	for _, r := range title {
		switch {
		case r == '(':
			depth++
		case r == ')':
			if depth > 0 {
				depth--
			}
		case depth > 0:
		case isWordRune(r) || unicode.IsSpace(r):
			b.WriteRune(r)
		}
	}
	return strings.Fields(strings.ToLower(b.String()))
}

// SubmitGuess applies one guess to the session. Empty input, ended sessions
// and duplicate words are silently ignored. The caller must hold the session
// mutex.
func SubmitGuess(sess *models.GameSession, p *models.Participant, rawWord string) GuessOutcome {
	word := strings.ToLower(strings.TrimSpace(rawWord))
	if word == "" || sess.Ended {
		return GuessIgnored
	}
	if _, dup := sess.GuessedWords[word]; dup {
		return GuessIgnored
	}

	sess.GuessedWords[word] = struct{}{}
	_, correct := sess.WordSet[word]
	sess.GuessHistory = append(sess.GuessHistory, models.GuessRecord{
		Word:    word,
		Name:    p.Name,
		Color:   p.Color,
		Correct: correct,
	})

	if len(sess.TitleWords) > 0 && lo.EveryBy(sess.TitleWords, func(w string) bool {
		_, ok := sess.GuessedWords[w]
		return ok
	}) {
		sess.Ended = true
		sess.WinnerTitle = sess.ArticleTitle
		util.LogInfo("Game %s won, title was: %s", sess.ID, sess.ArticleTitle)
		return GuessWon
	}
	return GuessAccepted
}

// GiveUp ends the session without a winner. Returns false if it already
// ended. The caller must hold the session mutex.
func GiveUp(sess *models.GameSession) bool {
	if sess.Ended {
		return false
	}
	sess.Ended = true
	util.LogInfo("Game %s given up, title was: %s", sess.ID, sess.ArticleTitle)
	return true
}

// HistorySnapshot copies the guess history for marshaling into a payload.
func HistorySnapshot(sess *models.GameSession) []models.GuessRecord {
	return append([]models.GuessRecord{}, sess.GuessHistory...)
}

// LoadStopwords reads the redaction stoplist, a JSON array of lowercase
// words that always render verbatim.
func LoadStopwords(path string) (map[string]struct{}, error) {
	util.LogInfo("Loading stopwords from %s", path)

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var words []string
	if err := json.Unmarshal(data, &words); err != nil {
		return nil, err
	}

	cleaned := lo.FilterMap(words, func(w string, _ int) (string, bool) {
		w = strings.ToLower(strings.TrimSpace(w))
		return w, w != ""
	})

	set := make(map[string]struct{}, len(cleaned))
	lo.ForEach(cleaned, func(w string, _ int) {
		set[w] = struct{}{}
	})

	util.LogInfo("Loaded %d stopwords", len(set))
	return set, nil
}
