// Package ctl is the client side of the daemon's control API, used by
// koinoniactl to talk to a running daemon over its Unix domain socket.
package ctl

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/gmcamargo/koinonia/internal/api"
	"github.com/gmcamargo/koinonia/internal/feed"
	"github.com/gmcamargo/koinonia/internal/room"
	"github.com/gorilla/websocket"
)

// Client talks to one session daemon.
type Client struct {
	socketPath string
	http       *http.Client
}

// New creates a client for the daemon at the given socket path.
func New(socketPath string) *Client {
	return &Client{
		socketPath: socketPath,
		http: &http.Client{
			Timeout: 30 * time.Second,
			Transport: &http.Transport{
				DialContext: func(ctx context.Context, _, _ string) (net.Conn, error) {
					var d net.Dialer
					return d.DialContext(ctx, "unix", socketPath)
				},
			},
		},
	}
}

// APIError is a non-2xx control API response.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return fmt.Sprintf("daemon returned status %d", e.Status)
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(raw)
	}

	// Host is ignored; the transport dials the socket.
	req, err := http.NewRequestWithContext(ctx, method, "http://unix"+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		var apiErr struct {
			Error string `json:"error"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&apiErr)
		return &APIError{Status: resp.StatusCode, Message: apiErr.Error}
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// Room fetches the room snapshot.
func (c *Client) Room(ctx context.Context) (room.Snapshot, error) {
	var snap room.Snapshot
	err := c.do(ctx, http.MethodGet, "/v1/room", nil, &snap)
	return snap, err
}

// OpenRoom switches the daemon to a room.
func (c *Client) OpenRoom(ctx context.Context, roomID string) error {
	return c.do(ctx, http.MethodPost, "/v1/room/open", map[string]string{"room_id": roomID}, nil)
}

// Messages fetches the feed snapshot.
func (c *Client) Messages(ctx context.Context) (feed.Snapshot, error) {
	var snap feed.Snapshot
	err := c.do(ctx, http.MethodGet, "/v1/messages", nil, &snap)
	return snap, err
}

// Send submits a message body.
func (c *Client) Send(ctx context.Context, body string) error {
	return c.do(ctx, http.MethodPost, "/v1/messages", map[string]string{"body": body}, nil)
}

// LoadOlder asks the daemon to page further back.
func (c *Client) LoadOlder(ctx context.Context) error {
	return c.do(ctx, http.MethodPost, "/v1/messages/older", nil, nil)
}

// RefreshMembership re-verifies membership against the backend.
func (c *Client) RefreshMembership(ctx context.Context) error {
	return c.do(ctx, http.MethodPost, "/v1/membership/refresh", nil, nil)
}

// Leave removes the user from the open room.
func (c *Client) Leave(ctx context.Context) error {
	return c.do(ctx, http.MethodDelete, "/v1/membership", nil, nil)
}

// Watch tails the daemon's event bus, invoking h per event until ctx is
// done or the stream breaks.
func (c *Client) Watch(ctx context.Context, namespace string, h func(api.EventEnvelope)) error {
	dialer := websocket.Dialer{
		NetDialContext: func(ctx context.Context, _, _ string) (net.Conn, error) {
			var d net.Dialer
			return d.DialContext(ctx, "unix", c.socketPath)
		},
	}
	url := "ws://unix/v1/events"
	if namespace != "" {
		url += "?ns=" + namespace
	}
	conn, _, err := dialer.DialContext(ctx, url, nil)
	if err != nil {
		return err
	}
	defer conn.Close()

	go func() {
		<-ctx.Done()
		_ = conn.Close()
	}()

	for {
		var env api.EventEnvelope
		if err := conn.ReadJSON(&env); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		h(env)
	}
}
