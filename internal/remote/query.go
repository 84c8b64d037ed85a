package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
)

type filter struct {
	column string
	op     string
	value  string
}

// Query builds one filtered, ordered, limited request against a table.
type Query struct {
	client    *Client
	table     string
	sel       string
	filters   []filter
	orderDesc string
	limit     int
	count     bool
}

// Select sets the column projection, including embedded resources, e.g.
// "*,author:profiles(id,full_name,avatar_url)".
func (q *Query) Select(columns string) *Query {
	q.sel = columns
	return q
}

// Eq adds an equality filter.
func (q *Query) Eq(column string, value string) *Query {
	q.filters = append(q.filters, filter{column, "eq", value})
	return q
}

// Lt adds an exclusive upper-bound filter.
func (q *Query) Lt(column string, value string) *Query {
	q.filters = append(q.filters, filter{column, "lt", value})
	return q
}

// OrderDesc orders results by column, newest first.
func (q *Query) OrderDesc(column string) *Query {
	q.orderDesc = column
	return q
}

// Limit caps the number of returned rows.
func (q *Query) Limit(n int) *Query {
	q.limit = n
	return q
}

// WithCount requests an exact total row count alongside the page.
func (q *Query) WithCount() *Query {
	q.count = true
	return q
}

func (q *Query) url() string {
	v := url.Values{}
	if q.sel != "" {
		v.Set("select", q.sel)
	}
	for _, f := range q.filters {
		v.Set(f.column, f.op+"."+f.value)
	}
	if q.orderDesc != "" {
		v.Set("order", q.orderDesc+".desc")
	}
	if q.limit > 0 {
		v.Set("limit", strconv.Itoa(q.limit))
	}
	return q.client.baseURL + "/rest/v1/" + q.table + "?" + v.Encode()
}

// Get executes the query and decodes the rows into dest (a pointer to a
// slice). When WithCount was set, the returned total is the server's exact
// row count for the filter; otherwise it is -1.
func (q *Query) Get(ctx context.Context, dest any) (int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, q.url(), nil)
	if err != nil {
		return -1, err
	}
	q.client.authorize(req)
	if q.count {
		req.Header.Set("Prefer", "count=exact")
	}

	resp, err := q.client.http.Do(req)
	if err != nil {
		return -1, fmt.Errorf("query %s: %w", q.table, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if err := checkStatus(resp); err != nil {
		return -1, err
	}

	total := parseTotal(resp.Header.Get("Content-Range"))
	if dest != nil {
		if err := json.NewDecoder(resp.Body).Decode(dest); err != nil {
			return -1, fmt.Errorf("decode %s rows: %w", q.table, err)
		}
	}
	return total, nil
}

// Single executes the query expecting exactly one row, decoded into dest.
// A zero-row result is an *APIError with status 406.
func (q *Query) Single(ctx context.Context, dest any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, q.url(), nil)
	if err != nil {
		return err
	}
	q.client.authorize(req)
	req.Header.Set("Accept", "application/vnd.pgrst.object+json")

	resp, err := q.client.http.Do(req)
	if err != nil {
		return fmt.Errorf("query %s: %w", q.table, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if err := checkStatus(resp); err != nil {
		return err
	}
	return json.NewDecoder(resp.Body).Decode(dest)
}

// Insert posts a single row and decodes the server's representation of it
// (including embedded resources from Select) into dest when non-nil.
func (q *Query) Insert(ctx context.Context, row any, dest any) error {
	body, err := json.Marshal(row)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, q.url(), bytes.NewReader(body))
	if err != nil {
		return err
	}
	q.client.authorize(req)
	req.Header.Set("Prefer", "return=representation")
	if dest != nil {
		req.Header.Set("Accept", "application/vnd.pgrst.object+json")
	}

	resp, err := q.client.http.Do(req)
	if err != nil {
		return fmt.Errorf("insert %s: %w", q.table, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if err := checkStatus(resp); err != nil {
		return err
	}
	if dest == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(dest)
}

// Delete removes the rows matching the query's filters. Refuses to run
// without at least one filter.
func (q *Query) Delete(ctx context.Context) error {
	if len(q.filters) == 0 {
		return fmt.Errorf("delete %s: no filters", q.table)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, q.url(), nil)
	if err != nil {
		return err
	}
	q.client.authorize(req)

	resp, err := q.client.http.Do(req)
	if err != nil {
		return fmt.Errorf("delete %s: %w", q.table, err)
	}
	defer func() { _ = resp.Body.Close() }()

	return checkStatus(resp)
}

func checkStatus(resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	return &APIError{Status: resp.StatusCode, Body: strings.TrimSpace(string(body))}
}

// parseTotal extracts the total from a Content-Range header like "0-19/45".
// Returns -1 when absent or unparseable.
func parseTotal(contentRange string) int64 {
	_, after, ok := strings.Cut(contentRange, "/")
	if !ok || after == "*" {
		return -1
	}
	n, err := strconv.ParseInt(after, 10, 64)
	if err != nil {
		return -1
	}
	return n
}
