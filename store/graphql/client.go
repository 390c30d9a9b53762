// Package graphql fetches entities from a GraphQL endpoint. Batches are
// sent as one query with an aliased field per entity:
//
//	query { e0: contentById(_id: "spring") { headline } e1: ... }
package graphql

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

	"go.uber.org/zap"

	"github.com/sambeau/stitch/pkg/stitch/binding"
	"github.com/sambeau/stitch/pkg/stitch/value"
)

// Options configures a Client.
type Options struct {
	Endpoint string
	Token    string
	// Selections maps a model to the selection set requested for it, e.g.
	// "{ headline bodyCopy }". A model without one is requested as a
	// scalar, which suits servers that return entities as JSON.
	Selections map[string]string
	HTTPClient *http.Client
	Timeout    time.Duration
	Logger     *zap.Logger
}

// Client implements binding.Fetcher, binding.BatchFetcher and
// binding.Introspector.
type Client struct {
	endpoint   string
	token      string
	selections map[string]string
	http       *http.Client
	log        *zap.Logger
}

// Error is one entry of a GraphQL errors payload.
type Error struct {
	Message string `json:"message"`
	Path    []any  `json:"path,omitempty"`
}

// ErrorList is returned when a response carried errors and no data.
type ErrorList []Error

func (l ErrorList) Error() string {
	if len(l) == 1 {
		return "graphql: " + l[0].Message
	}
	return fmt.Sprintf("graphql: %d errors, first: %s", len(l), l[0].Message)
}

// New returns a client for endpoint.
func New(opts Options) (*Client, error) {
	if opts.Endpoint == "" {
		return nil, errors.New("graphql endpoint is required")
	}
	hc := opts.HTTPClient
	if hc == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = 30 * time.Second
		}
		hc = &http.Client{Timeout: timeout}
	}
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	return &Client{
		endpoint:   opts.Endpoint,
		token:      opts.Token,
		selections: opts.Selections,
		http:       hc,
		log:        log,
	}, nil
}

type request struct {
	Query string `json:"query"`
}

type response struct {
	Data   map[string]json.RawMessage `json:"data"`
	Errors ErrorList                  `json:"errors"`
}

// FetchEntity implements binding.Fetcher. Errors reported for the field
// fail the fetch.
func (c *Client) FetchEntity(ctx context.Context, q binding.Query) (value.Record, error) {
	query, err := c.buildQuery([]binding.Query{q})
	if err != nil {
		return nil, err
	}
	resp, err := c.do(ctx, query)
	if err != nil {
		return nil, err
	}
	for _, e := range resp.Errors {
		if len(e.Path) > 0 && e.Path[0] == alias(0) {
			return nil, fmt.Errorf("graphql: %s", e.Message)
		}
	}
	return c.record(resp.Data, 0)
}

// FetchEntities implements binding.BatchFetcher. A response with errors
// and no data fails the batch. Null fields are misses.
func (c *Client) FetchEntities(ctx context.Context, qs []binding.Query) ([]value.Record, error) {
	if len(qs) == 0 {
		return nil, nil
	}
	query, err := c.buildQuery(qs)
	if err != nil {
		return nil, err
	}
	resp, err := c.do(ctx, query)
	if err != nil {
		return nil, err
	}
	if len(resp.Errors) > 0 {
		c.log.Warn("graphql batch returned errors",
			zap.Int("errors", len(resp.Errors)), zap.String("first", resp.Errors[0].Message))
	}

	out := make([]value.Record, len(qs))
	for i := range qs {
		rec, err := c.record(resp.Data, i)
		if err != nil {
			c.log.Warn("graphql field skipped", zap.String("alias", alias(i)), zap.Error(err))
			continue
		}
		out[i] = rec
	}
	return out, nil
}

func (c *Client) record(data map[string]json.RawMessage, i int) (value.Record, error) {
	raw, ok := data[alias(i)]
	if !ok || len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}
	var rec value.Record
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, fmt.Errorf("graphql: %s is not an object: %w", alias(i), err)
	}
	return rec, nil
}

func alias(i int) string { return fmt.Sprintf("e%d", i) }

func (c *Client) buildQuery(qs []binding.Query) (string, error) {
	var b strings.Builder
	b.WriteString("query {")
	for i, q := range qs {
		field, arg := q.Field, q.Arg
		if field == "" {
			field, arg = binding.ConventionalField(q.Model)
		}
		if arg == "" {
			arg = "_id"
		}
		if !isName(field) || !isName(arg) {
			return "", fmt.Errorf("graphql: invalid field %s(%s) for model %q", field, arg, q.Model)
		}
		id, err := json.Marshal(q.ID)
		if err != nil {
			return "", err
		}
		fmt.Fprintf(&b, " %s: %s(%s: %s)", alias(i), field, arg, id)
		if sel := strings.TrimSpace(c.selections[q.Model]); sel != "" {
			if !strings.HasPrefix(sel, "{") {
				sel = "{ " + sel + " }"
			}
			b.WriteString(" " + sel)
		}
	}
	b.WriteString(" }")
	return b.String(), nil
}

// do posts a query. Transport failures, non-2xx statuses and error payloads
// without data are returned as errors.
func (c *Client) do(ctx context.Context, query string) (*response, error) {
	body, err := json.Marshal(request{Query: query})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("graphql: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	start := time.Now()
	res, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("graphql: %w", err)
	}
	defer res.Body.Close()

	data, err := io.ReadAll(io.LimitReader(res.Body, 32<<20))
	if err != nil {
		return nil, fmt.Errorf("graphql: reading response: %w", err)
	}
	c.log.Debug("graphql request",
		zap.Int("status", res.StatusCode), zap.Duration("duration", time.Since(start)), zap.Int("bytes", len(data)))

	var out response
	decodeErr := json.Unmarshal(data, &out)
	if res.StatusCode < 200 || res.StatusCode > 299 {
		if decodeErr == nil && len(out.Errors) > 0 {
			return nil, fmt.Errorf("graphql: status %d: %w", res.StatusCode, out.Errors)
		}
		return nil, fmt.Errorf("graphql: unexpected status %d", res.StatusCode)
	}
	if decodeErr != nil {
		return nil, fmt.Errorf("graphql: decoding response: %w", decodeErr)
	}
	if out.Data == nil && len(out.Errors) > 0 {
		return nil, out.Errors
	}
	return &out, nil
}

// isName reports whether s is a GraphQL name.
func isName(s string) bool {
	if s == "" {
		return false
	}
	for i, c := range s {
		switch {
		case c == '_', c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z':
		case c >= '0' && c <= '9' && i > 0:
		default:
			return false
		}
	}
	return true
}
