package question

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/auralog/voicejournal/internal/shared"
)

// Request modes understood by the generation backend.
const (
	ModeValidate = "validate"
	ModeNext     = "next"
)

// HistoryEntry is the wire shape of one past question, sent so the backend can
// avoid repeating itself.
type HistoryEntry struct {
	Text        string `json:"text"`
	CoverageTag string `json:"coverageTag"`
	Kind        Kind   `json:"kind"`
	Status      Status `json:"status"`
}

type Request struct {
	Mode           string         `json:"mode"`
	DraftText      string         `json:"draftText"`
	RecentText     string         `json:"recentText"`
	LastQuestion   string         `json:"lastQuestion,omitempty"`
	History        []HistoryEntry `json:"questionHistory,omitempty"`
	Profile        string         `json:"profile,omitempty"`
	RecentSessions []string       `json:"recentSessions,omitempty"`
	PreferredKind  Kind           `json:"preferredKind,omitempty"`
}

type NextQuestion struct {
	Text        string `json:"text"`
	CoverageTag string `json:"coverageTag"`
	Kind        Kind   `json:"kind"`
}

type Response struct {
	Answered     *bool         `json:"answered,omitempty"`
	NextQuestion *NextQuestion `json:"nextQuestion,omitempty"`
	FallbackUsed bool          `json:"fallbackUsed,omitempty"`
}

// Generator is the question-generation collaborator: an opaque service that
// validates answers and writes the next question.
type Generator interface {
	Generate(ctx context.Context, req Request) (*Response, error)
}

type httpGenerator struct {
	url    string
	apiKey string
	http   *http.Client
}

func NewGenerator(url, apiKey string) Generator {
	return &httpGenerator{
		url:    url,
		apiKey: apiKey,
		http:   &http.Client{Timeout: 20 * time.Second},
	}
}

func (g *httpGenerator) Generate(ctx context.Context, req Request) (*Response, error) {
	if g.url == "" {
		return nil, fmt.Errorf("generation endpoint not configured: %w", shared.ErrConfiguration)
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("encode generation request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, g.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build generation request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if g.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+g.apiKey)
	}

	resp, err := g.http.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("generation request: %w", err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read generation response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("generation endpoint status %d: %w", resp.StatusCode, shared.ErrTransport)
	}

	var out Response
	if err := json.Unmarshal(payload, &out); err != nil {
		return nil, fmt.Errorf("decode generation response: %w", err)
	}
	return &out, nil
}

// HistorySnapshot converts asked items into their wire shape.
func HistorySnapshot(items []*Item) []HistoryEntry {
	entries := make([]HistoryEntry, 0, len(items))
	for _, item := range items {
		entries = append(entries, HistoryEntry{
			Text:        item.Text,
			CoverageTag: item.CoverageTag,
			Kind:        item.Kind,
			Status:      item.Status,
		})
	}
	return entries
}
