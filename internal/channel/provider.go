package channel

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
)

// HTTPProvider dials calls through a telephony gateway's HTTP API.
type HTTPProvider struct {
	url    string
	client *http.Client
}

// NewHTTPProvider creates a provider posting to the given gateway URL.
func NewHTTPProvider(url string, client *http.Client) *HTTPProvider {
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPProvider{url: url, client: client}
}

func (p *HTTPProvider) Dial(ctx context.Context, to, script string) (string, error) {
	body, err := json.Marshal(map[string]string{"to": to, "script": script})
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.url, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("telephony gateway: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return "", fmt.Errorf("telephony gateway: status %d", resp.StatusCode)
	}
	var out struct {
		CallID string `json:"call_id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("telephony gateway: decode response: %w", err)
	}
	return out.CallID, nil
}

// StaticDirectory is a fixed in-memory Directory, used in development
// and tests.
type StaticDirectory struct {
	Emails map[string]string
	Phones map[string]string
}

func (d *StaticDirectory) Email(_ context.Context, userID string) (string, error) {
	if e, ok := d.Emails[userID]; ok && e != "" {
		return e, nil
	}
	return "", &SkippableError{Reason: fmt.Sprintf("no email on file for user %s", userID)}
}

func (d *StaticDirectory) Phone(_ context.Context, userID string) (string, error) {
	if p, ok := d.Phones[userID]; ok && p != "" {
		return p, nil
	}
	return "", &SkippableError{Reason: fmt.Sprintf("no phone on file for user %s", userID)}
}
