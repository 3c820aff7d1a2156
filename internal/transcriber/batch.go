package transcriber

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/auralog/voicejournal/internal/shared"
)

// errCorruptedChunk marks the batch endpoint's 400-class rejection of a
// malformed audio payload. Callers ignore it: the chunk retries on the next
// cycle and a fresh capture segment clears it entirely.
var errCorruptedChunk = errors.New("corrupted audio chunk")

type BatchRequest struct {
	AudioBase64 string `json:"audioBase64"`
	MimeType    string `json:"mimeType"`
	FileName    string `json:"fileName"`
	Prompt      string `json:"prompt,omitempty"`
}

type BatchResponse struct {
	Text string `json:"text"`
}

// BatchClient is the batch transcription collaborator: whole audio segment in,
// text out.
type BatchClient interface {
	Transcribe(ctx context.Context, req BatchRequest) (*BatchResponse, error)
}

type httpBatchClient struct {
	url    string
	apiKey string
	http   *http.Client
}

func NewBatchClient(url, apiKey string) BatchClient {
	return &httpBatchClient{
		url:    url,
		apiKey: apiKey,
		http:   &http.Client{Timeout: 45 * time.Second},
	}
}

func (c *httpBatchClient) Transcribe(ctx context.Context, req BatchRequest) (*BatchResponse, error) {
	if c.url == "" {
		return nil, fmt.Errorf("batch endpoint not configured: %w", shared.ErrConfiguration)
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("encode batch request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build batch request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("batch upload: %w", err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read batch response: %w", err)
	}

	if resp.StatusCode >= 400 && resp.StatusCode < 500 {
		if isCorruptedAudio(payload) {
			return nil, errCorruptedChunk
		}
		return nil, fmt.Errorf("batch endpoint rejected upload (%d): %w", resp.StatusCode, shared.ErrPayload)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("batch endpoint status %d: %w", resp.StatusCode, shared.ErrTransport)
	}

	var out BatchResponse
	if err := json.Unmarshal(payload, &out); err != nil {
		return nil, fmt.Errorf("decode batch response: %w", err)
	}
	return &out, nil
}

func isCorruptedAudio(body []byte) bool {
	msg := strings.ToLower(string(body))
	return strings.Contains(msg, "corrupt") || strings.Contains(msg, "could not decode audio")
}
