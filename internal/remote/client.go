// Package remote talks to the hosted backend: a PostgREST-style table API
// plus a websocket change feed. It is the only package that knows the wire
// shapes; everything above it works with normalized domain types.
package remote

import (
	"fmt"
	"net/http"
	"strings"
	"time"
)

// Client issues authenticated requests against the backend's table API.
type Client struct {
	baseURL string
	apiKey  string
	token   string
	http    *http.Client
}

// NewClient creates a table client. token may equal apiKey for anonymous
// access; authenticated sessions pass the user's access token.
func NewClient(baseURL, apiKey, token string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		token:   token,
		http:    &http.Client{Timeout: 15 * time.Second},
	}
}

// From starts a query against the given table.
func (c *Client) From(table string) *Query {
	return &Query{client: c, table: table}
}

// APIError is a non-2xx response from the backend.
type APIError struct {
	Status int
	Body   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("backend returned %d: %s", e.Status, e.Body)
}

func (c *Client) authorize(req *http.Request) {
	req.Header.Set("apikey", c.apiKey)
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Content-Type", "application/json")
}
