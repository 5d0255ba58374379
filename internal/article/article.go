package article

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	game "github.com/CodeAndHammer/kasvorto/internal/game"
	util "github.com/CodeAndHammer/kasvorto/internal/util"
)

// Article is the triple every new session is built from. Tokens concatenated
// reproduce Text exactly.
type Article struct {
	Title  string
	Text   string
	Tokens []string
}

const DefaultBaseURL = "https://en.wikipedia.org"

// Source fetches a random article from a MediaWiki instance. Fetch never
// fails: any error inside the bounded attempt yields the canned fallback.
type Source struct {
	client  *http.Client
	baseURL string
	timeout time.Duration
}

func NewSource(baseURL string, timeout time.Duration) *Source {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Source{
		client:  &http.Client{},
		baseURL: strings.TrimRight(baseURL, "/"),
		timeout: timeout,
	}
}

func (s *Source) Fetch(ctx context.Context) Article {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	art, err := s.fetchRandom(ctx)
	if err != nil {
		util.LogWarn("Failed to load article, using fallback: %v", err)
		return Fallback()
	}
	return art
}

type randomSummary struct {
	Title string `json:"title"`
}

type extractResponse struct {
	Query struct {
		Pages []struct {
			Extract string `json:"extract"`
		} `json:"pages"`
	} `json:"query"`
}

func (s *Source) fetchRandom(ctx context.Context) (Article, error) {
	var summary randomSummary
	if err := s.getJSON(ctx, s.baseURL+"/api/rest_v1/page/random/summary", &summary); err != nil {
		return Article{}, err
	}
	if strings.TrimSpace(summary.Title) == "" {
		return Article{}, errors.New("random summary returned empty title")
	}

	extractURL := s.baseURL + "/w/api.php?action=query&prop=extracts&explaintext=1&format=json&formatversion=2&titles=" +
		url.QueryEscape(summary.Title)
	var extract extractResponse
	if err := s.getJSON(ctx, extractURL, &extract); err != nil {
		return Article{}, err
	}
	if len(extract.Query.Pages) == 0 {
		return Article{}, errors.New("extract response contained no pages")
	}
	body := strings.TrimSpace(extract.Query.Pages[0].Extract)
	if body == "" {
		return Article{}, errors.New("extract response contained no text")
	}

	text := summary.Title + ". " + body
	util.LogInfo("Fetched article: %q (%d bytes)", summary.Title, len(text))
	return Article{
		Title:  summary.Title,
		Text:   text,
		Tokens: game.Tokenize(text),
	}, nil
}

func (s *Source) getJSON(ctx context.Context, rawURL string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return err
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %d from %s", resp.StatusCode, rawURL)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

const fallbackText = "Internet. The Internet is a global system of interconnected computer " +
	"networks that uses the Internet protocol suite to communicate between networks and " +
	"devices. It is a network of networks consisting of private, public, academic, business, " +
	"and government networks of local to global scope, linked by a broad array of electronic, " +
	"wireless, and optical networking technologies."

// Fallback is the canned article served when fetching fails.
func Fallback() Article {
	return Article{
		Title:  "Internet",
		Text:   fallbackText,
		Tokens: game.Tokenize(fallbackText),
	}
}
