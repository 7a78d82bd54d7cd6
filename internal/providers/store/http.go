// Package store persists finished transcripts through the relay's HTTP
// API. Both calls are best effort; the recorder reports failures but
// never blocks teardown on them.
package store

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

type Config struct {
	BaseURL    string
	Token      string
	HTTPClient *http.Client
}

// Client implements ports.TranscriptStore.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

func NewClient(cfg Config) (*Client, error) {
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if base == "" {
		return nil, errors.New("store base URL is not configured")
	}
	if _, err := url.Parse(base); err != nil {
		return nil, fmt.Errorf("invalid store base URL: %w", err)
	}

	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}
	return &Client{baseURL: base, token: cfg.Token, http: client}, nil
}

// Upload saves the session transcript for the meeting.
func (c *Client) Upload(ctx context.Context, meetingID string, transcript string) error {
	body, err := json.Marshal(map[string]string{"transcript": transcript})
	if err != nil {
		return fmt.Errorf("failed to encode transcript: %w", err)
	}
	return c.post(ctx, fmt.Sprintf("%s/meetings/%s/transcript", c.baseURL, url.PathEscape(meetingID)), body)
}

// TriggerProcessing kicks off server-side post-processing of an uploaded
// transcript.
func (c *Client) TriggerProcessing(ctx context.Context, meetingID string) error {
	return c.post(ctx, fmt.Sprintf("%s/meetings/%s/process", c.baseURL, url.PathEscape(meetingID)), nil)
}

func (c *Client) post(ctx context.Context, endpoint string, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("unexpected status %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet)))
	}
	return nil
}
