package constants

type ContextKey string

const (
	GameIDLength   = 6
	GameIDAlphabet = "abcdefghijklmnopqrstuvwxyz0123456789"
)

// MaskGlyph is repeated once per rune of a hidden word so word length
// stays visible.
const MaskGlyph = "█"

// Palette is cycled by join order within a session.
var Palette = []string{
	"#d32f2f", "#1976d2", "#388e3c", "#f57c00",
	"#7b1fa2", "#c2185b", "#00796b", "#5d4037",
}

const (
	MsgJoinGame    = "join_game"
	MsgSubmitGuess = "submit_guess"
	MsgGiveUp      = "give_up"
)

const (
	MsgArticleInit   = "article_init"
	MsgArticleUpdate = "article_update"
	MsgGameOver      = "game_over"
)

const (
	RouteHome    = "/"
	RouteGame    = "/game/:id"
	RouteWS      = "/ws"
	RouteHealthz = "/healthz"
)

const (
	RequestIDKey ContextKey = "request_id"
)
