// Package chanman talks to the external channel management system. The
// marker string written at channel creation embeds the event id and is the
// sole join key reconciliation uses; it must survive even if the local
// registry is lost.
package chanman

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"lineup/internal/config"
	"lineup/internal/services"
)

// HTTPDoer describes the HTTP client used by the channel manager client.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Stream is one stream slot on an external channel.
type Stream struct {
	ID       string `json:"id"`
	Priority int    `json:"priority"`
}

// Channel is the external system's view of one channel.
type Channel struct {
	ID       string   `json:"id"`
	Marker   string   `json:"marker"`
	Name     string   `json:"name"`
	Number   int64    `json:"number"`
	Grouping string   `json:"grouping"`
	Streams  []Stream `json:"streams"`
}

// Client talks to the channel management HTTP API.
type Client struct {
	baseURL      string
	apiKey       string
	markerPrefix string
	client       HTTPDoer
}

// New constructs a channel manager client from configuration.
func New(cfg *config.Config) *Client {
	timeout := 15 * time.Second
	if cfg.ChannelManager.RequestTimeout > 0 {
		timeout = time.Duration(cfg.ChannelManager.RequestTimeout) * time.Second
	}
	return &Client{
		baseURL:      cfg.ChannelManager.BaseURL,
		apiKey:       cfg.ChannelManager.APIKey,
		markerPrefix: cfg.ChannelManager.MarkerPrefix,
		client:       &http.Client{Timeout: timeout},
	}
}

// NewWithDoer constructs a client with an explicit HTTP doer.
func NewWithDoer(baseURL, apiKey, markerPrefix string, doer HTTPDoer) *Client {
	return &Client{baseURL: baseURL, apiKey: apiKey, markerPrefix: markerPrefix, client: doer}
}

// Marker renders the reconciliation marker for an event id.
func (c *Client) Marker(eventID string) string {
	return c.markerPrefix + eventID
}

// ParseMarker extracts the event id from a marker. False when the marker
// was not written by this system.
func (c *Client) ParseMarker(marker string) (string, bool) {
	if c.markerPrefix == "" || !strings.HasPrefix(marker, c.markerPrefix) {
		return "", false
	}
	eventID := strings.TrimPrefix(marker, c.markerPrefix)
	return eventID, eventID != ""
}

type createChannelRequest struct {
	Name     string `json:"name"`
	Number   int64  `json:"number"`
	Grouping string `json:"grouping"`
	Marker   string `json:"marker"`
}

type createChannelResponse struct {
	ID string `json:"id"`
}

type listChannelsResponse struct {
	Channels []Channel `json:"channels"`
}

type assignStreamsRequest struct {
	StreamIDs []string `json:"stream_ids"`
}

// CreateChannel creates an external channel and returns its id.
func (c *Client) CreateChannel(ctx context.Context, name string, number int64, grouping, marker string) (string, error) {
	var payload createChannelResponse
	err := c.doJSON(ctx, http.MethodPost, "/channels", createChannelRequest{
		Name: name, Number: number, Grouping: grouping, Marker: marker,
	}, &payload)
	if err != nil {
		return "", services.Wrap(writeMarker(err), "chanman", "create channel", name, err)
	}
	if payload.ID == "" {
		return "", services.Wrap(services.ErrExternalWrite, "chanman", "create channel", name,
			errors.New("response carried no channel id"))
	}
	return payload.ID, nil
}

// ListChannels returns every channel carrying this system's marker. The
// external system may hold unrelated channels; those are filtered here.
func (c *Client) ListChannels(ctx context.Context) ([]Channel, error) {
	var payload listChannelsResponse
	if err := c.doJSON(ctx, http.MethodGet, "/channels", nil, &payload); err != nil {
		return nil, services.Wrap(writeMarker(err), "chanman", "list channels", "", err)
	}
	marked := make([]Channel, 0, len(payload.Channels))
	for _, ch := range payload.Channels {
		if _, ok := c.ParseMarker(ch.Marker); ok {
			marked = append(marked, ch)
		}
	}
	return marked, nil
}

// AssignStreams replaces a channel's stream list with the given ordered ids.
// Priorities are positional: index 0 is the primary feed.
func (c *Client) AssignStreams(ctx context.Context, channelID string, orderedStreamIDs []string) error {
	path := "/channels/" + channelID + "/streams"
	if err := c.doJSON(ctx, http.MethodPut, path, assignStreamsRequest{StreamIDs: orderedStreamIDs}, nil); err != nil {
		return services.Wrap(writeMarker(err), "chanman", "assign streams", channelID, err)
	}
	return nil
}

// DeleteChannel removes an external channel. A 404 is treated as success:
// the channel is already gone.
func (c *Client) DeleteChannel(ctx context.Context, channelID string) error {
	err := c.doJSON(ctx, http.MethodDelete, "/channels/"+channelID, nil, nil)
	if errors.Is(err, services.ErrNotFound) {
		return nil
	}
	if err != nil {
		return services.Wrap(writeMarker(err), "chanman", "delete channel", channelID, err)
	}
	return nil
}

// GetChannel fetches one external channel, nil when it no longer exists.
func (c *Client) GetChannel(ctx context.Context, channelID string) (*Channel, error) {
	var payload Channel
	err := c.doJSON(ctx, http.MethodGet, "/channels/"+channelID, nil, &payload)
	if errors.Is(err, services.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, services.Wrap(writeMarker(err), "chanman", "get channel", channelID, err)
	}
	return &payload, nil
}

func (c *Client) doJSON(ctx context.Context, method, path string, body, out any) error {
	var reader *bytes.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(encoded)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return services.ErrNotFound
	}
	if resp.StatusCode >= http.StatusMultipleChoices {
		return fmt.Errorf("channel manager returned %d", resp.StatusCode)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func writeMarker(err error) error {
	switch {
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return services.ErrTimeout
	case errors.Is(err, services.ErrNotFound):
		return services.ErrNotFound
	default:
		return services.ErrExternalWrite
	}
}
