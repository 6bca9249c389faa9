package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// OutreachRequest asks the voice/SMS dispatcher to contact a lead.
type OutreachRequest struct {
	TenantID   string `json:"tenant_id"`
	LeadID     string `json:"lead_id"`
	FollowUpID string `json:"follow_up_id"`
	Channel    string `json:"channel"`
	To         string `json:"to"`
	Message    string `json:"message,omitempty"`
	Attempt    int    `json:"attempt"`
}

type OutreachResponse struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

// Outreach hands call and SMS follow-ups to the dispatcher.
type Outreach interface {
	Dispatch(ctx context.Context, req OutreachRequest) (OutreachResponse, error)
}

// WebhookPoster posts JSON documents to tenant-configured URLs.
type WebhookPoster interface {
	PostJSON(ctx context.Context, url string, body any, headers map[string]string) error
}

// HTTPClient implements Outreach and WebhookPoster over HTTP.
type HTTPClient struct {
	dispatchURL string
	httpClient  *http.Client
}

func NewHTTPClient(dispatchURL string, timeout time.Duration) *HTTPClient {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPClient{
		dispatchURL: strings.TrimRight(dispatchURL, "/"),
		httpClient:  &http.Client{Timeout: timeout},
	}
}

func (c *HTTPClient) Dispatch(ctx context.Context, req OutreachRequest) (OutreachResponse, error) {
	if c.dispatchURL == "" {
		return OutreachResponse{}, fmt.Errorf("outreach dispatch url not configured")
	}
	var out OutreachResponse
	err := c.post(ctx, c.dispatchURL, req, map[string]string{"Idempotency-Key": "followup:" + req.FollowUpID}, &out)
	if err != nil {
		return OutreachResponse{}, err
	}
	return out, nil
}

func (c *HTTPClient) PostJSON(ctx context.Context, url string, body any, headers map[string]string) error {
	return c.post(ctx, url, body, headers, nil)
}

func (c *HTTPClient) post(ctx context.Context, url string, body any, headers map[string]string, out any) error {
	bodyBytes, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(bodyBytes))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("post %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("post %s returned %d: %s", url, resp.StatusCode, strings.TrimSpace(string(msg)))
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil && err != io.EOF {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// Render fills {{key}} placeholders in tmpl. Unknown placeholders are left as is.
func Render(tmpl string, vars map[string]string) string {
	if tmpl == "" || len(vars) == 0 {
		return tmpl
	}
	pairs := make([]string, 0, len(vars)*2)
	for k, v := range vars {
		pairs = append(pairs, "{{"+k+"}}", v)
	}
	return strings.NewReplacer(pairs...).Replace(tmpl)
}
