package kick

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

// DefaultAPIBase is the public Kick site that serves the channel lookup API
const DefaultAPIBase = "https://kick.com"

// ChannelResponse represents the API response from Kick
type ChannelResponse struct {
	ID       int    `json:"id"`
	Slug     string `json:"slug"`
	Chatroom struct {
		ID int `json:"id"`
	} `json:"chatroom"`
}

// Resolver looks up Kick channels by name
type Resolver struct {
	baseURL string
	client  *http.Client
}

// NewResolver creates a resolver against baseURL. A nil client gets a 10s timeout client.
func NewResolver(baseURL string, client *http.Client) *Resolver {
	if baseURL == "" {
		baseURL = DefaultAPIBase
	}
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &Resolver{baseURL: baseURL, client: client}
}

// Fetch returns the raw channel JSON for channelName
func (r *Resolver) Fetch(ctx context.Context, channelName string) ([]byte, error) {
	endpoint := fmt.Sprintf("%s/api/v2/channels/%s", r.baseURL, url.PathEscape(channelName))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	// Browser headers to get past CloudFlare. Accept-Encoding is left to the
	// transport so gzip responses are decoded automatically.
	req.Header.Set("User-Agent", "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/143.0.0.0 Safari/537.36")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Accept-Language", "en-US,en;q=0.9")
	req.Header.Set("Referer", "https://kick.com/")
	req.Header.Set("Origin", "https://kick.com")
	req.Header.Set("Sec-Fetch-Dest", "empty")
	req.Header.Set("Sec-Fetch-Mode", "cors")
	req.Header.Set("Sec-Fetch-Site", "same-origin")

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("API returned status %d: %s", resp.StatusCode, truncate(body, 200))
	}

	return body, nil
}

// Resolve fetches channel information and returns its chatroom ID and slug
func (r *Resolver) Resolve(ctx context.Context, channelName string) (int, string, error) {
	body, err := r.Fetch(ctx, channelName)
	if err != nil {
		return 0, "", err
	}

	var channelInfo ChannelResponse
	if err := json.NewDecoder(bytes.NewReader(body)).Decode(&channelInfo); err != nil {
		return 0, "", fmt.Errorf("JSON decode failed: %w (first bytes: %q)", err, truncate(body, 100))
	}
	if channelInfo.Chatroom.ID <= 0 {
		return 0, "", fmt.Errorf("response for %q has no chatroom id", channelName)
	}

	slug := channelInfo.Slug
	if slug == "" {
		slug = channelName
	}
	return channelInfo.Chatroom.ID, slug, nil
}

func truncate(b []byte, n int) string {
	if len(b) > n {
		return string(b[:n])
	}
	return string(b)
}
