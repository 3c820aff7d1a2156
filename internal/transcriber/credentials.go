package transcriber

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

// CredentialExchange issues the short-lived secret that authenticates the
// realtime socket. The long-lived API key never crosses the socket itself.
type CredentialExchange interface {
	EphemeralSecret(ctx context.Context) (string, error)
}

type httpCredentialExchange struct {
	url    string
	apiKey string
	model  string
	http   *http.Client
}

func NewCredentialExchange(url, apiKey, model string) CredentialExchange {
	return &httpCredentialExchange{
		url:    url,
		apiKey: apiKey,
		model:  model,
		http:   &http.Client{Timeout: 10 * time.Second},
	}
}

func (c *httpCredentialExchange) EphemeralSecret(ctx context.Context) (string, error) {
	if c.url == "" || c.apiKey == "" {
		return "", fmt.Errorf("realtime session credentials missing: %w", shared.ErrConfiguration)
	}

	body, err := json.Marshal(map[string]any{
		"model": c.model,
	})
	if err != nil {
		return "", fmt.Errorf("encode session request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build session request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("session negotiation: %w", shared.ErrTransport)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("read session response: %w", err)
	}
	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return "", fmt.Errorf("session negotiation rejected (%d): %w", resp.StatusCode, shared.ErrConfiguration)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("session negotiation status %d: %w", resp.StatusCode, shared.ErrTransport)
	}

	var out struct {
		ClientSecret struct {
			Value string `json:"value"`
		} `json:"client_secret"`
	}
	if err := json.Unmarshal(payload, &out); err != nil {
		return "", fmt.Errorf("decode session response: %w", err)
	}
	if out.ClientSecret.Value == "" {
		return "", fmt.Errorf("session response missing client secret: %w", shared.ErrTransport)
	}
	return out.ClientSecret.Value, nil
}
