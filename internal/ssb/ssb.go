// Package ssb is the Statistics Norway (SSB) adapter. From Klass it
// fetches yearly county/electoral-district to municipality
// correspondences and code change lists; from the statistics bank it
// fetches parliamentary election results. It implements
// source.MappingSource, source.ChangeSource and source.ResultSource.
//
// Classification ids are not hard-coded: the taxonomy says which Klass
// classification backs a level in a given year (104 counties, 543
// electoral districts from 2020, 131 municipalities).
package ssb

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/roach88/atlas/internal/ir"
	"github.com/roach88/atlas/internal/objstore"
	"github.com/roach88/atlas/internal/taxonomy"
)

// DefaultBaseURL is the public Klass API.
const DefaultBaseURL = "https://data.ssb.no/api/klass/v1"

// SourceName is recorded as the Source of fetched mappings.
const SourceName = "SSB"

// StatusError is a non-2xx response.
type StatusError struct {
	Method     string
	URL        string
	StatusCode int
}

// Error implements the error interface.
func (e *StatusError) Error() string {
	return fmt.Sprintf("%s %s: %d %s", e.Method, e.URL, e.StatusCode, http.StatusText(e.StatusCode))
}

// Option configures a Client.
type Option func(*Client)

// WithBaseURL points the client at another Klass deployment.
func WithBaseURL(u string) Option {
	return func(c *Client) {
		c.base = u
	}
}

// WithTablesURL points the client at another statistics bank.
func WithTablesURL(u string) Option {
	return func(c *Client) {
		c.tables = u
	}
}

// WithHTTPClient sets the HTTP client.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) {
		c.http = h
	}
}

// WithRetryPolicy sets the retry policy for transient failures.
func WithRetryPolicy(p objstore.RetryPolicy) Option {
	return func(c *Client) {
		c.retry = p
	}
}

// WithNow sets the clock stamped into RetrievedAt.
func WithNow(now func() time.Time) Option {
	return func(c *Client) {
		c.now = now
	}
}

// Client talks to Klass and the statistics bank.
type Client struct {
	base   string
	tables string
	http   *http.Client
	tax    *taxonomy.Taxonomy
	retry  objstore.RetryPolicy
	now    func() time.Time
}

// New creates a client resolving classification ids through tax.
func New(tax *taxonomy.Taxonomy, opts ...Option) *Client {
	c := &Client{
		base:   DefaultBaseURL,
		tables: DefaultTablesURL,
		http:   &http.Client{Timeout: 30 * time.Second},
		tax:    tax,
		retry:  objstore.DefaultRetryPolicy,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type correspondenceResponse struct {
	Items []struct {
		SourceCode string `json:"sourceCode"`
		SourceName string `json:"sourceName"`
		TargetCode string `json:"targetCode"`
		TargetName string `json:"targetName"`
	} `json:"correspondenceItems"`
}

type changesResponse struct {
	Changes []struct {
		OldCode        string `json:"oldCode"`
		OldName        string `json:"oldName"`
		NewCode        string `json:"newCode"`
		NewName        string `json:"newName"`
		ChangeOccurred string `json:"changeOccurred"`
	} `json:"codeChanges"`
}

// Mapping fetches the correspondence between level and its child level
// valid on the year's reference date.
func (c *Client) Mapping(ctx context.Context, dim ir.Dimension, level ir.Level, year int) (ir.ParentChildMapping, error) {
	d, err := c.tax.Dimension(dim)
	if err != nil {
		return ir.ParentChildMapping{}, err
	}
	child, ok := level.Child()
	if !ok {
		return ir.ParentChildMapping{}, ir.NewValidationError("level", level.String(), "level has no children")
	}
	sourceID, ok := d.Classification(level, year)
	if !ok {
		return ir.ParentChildMapping{}, fmt.Errorf("no classification for %s level %d in %d", dim, level, year)
	}
	targetID, ok := d.Classification(child, year)
	if !ok {
		return ir.ParentChildMapping{}, fmt.Errorf("no classification for %s level %d in %d", dim, child, year)
	}
	refDate := c.tax.ReferenceDate(year)

	q := url.Values{}
	q.Set("targetClassificationId", fmt.Sprint(targetID))
	q.Set("date", refDate.String())
	var resp correspondenceResponse
	if err := c.get(ctx, fmt.Sprintf("/classifications/%d/correspondsAt", sourceID), q, &resp); err != nil {
		return ir.ParentChildMapping{}, err
	}

	m := ir.ParentChildMapping{
		Dimension:     dim,
		Year:          year,
		ReferenceDate: refDate,
		Level:         level,
		LevelTypeCode: d.LevelTypeCode,
		LevelTypeName: d.LevelTypeName,
		Source:        SourceName,
		RetrievedAt:   c.now().UTC().Format(time.RFC3339),
	}
	index := map[string]int{}
	for _, item := range resp.Items {
		i, ok := index[item.SourceCode]
		if !ok {
			i = len(m.Parents)
			index[item.SourceCode] = i
			m.Parents = append(m.Parents, ir.ParentEntry{Code: item.SourceCode, Name: item.SourceName})
		}
		m.Parents[i].Children = append(m.Parents[i].Children, ir.CodeRef{Code: item.TargetCode, Name: item.TargetName})
	}
	m.Normalize()
	return m, nil
}

// Changes fetches the code changes of a level in [from, to], using the
// classification in force at the end of the window.
func (c *Client) Changes(ctx context.Context, dim ir.Dimension, level ir.Level, from, to ir.Date) ([]ir.RawChange, error) {
	d, err := c.tax.Dimension(dim)
	if err != nil {
		return nil, err
	}
	id, ok := d.Classification(level, to.Year())
	if !ok {
		return nil, fmt.Errorf("no classification for %s level %d in %d", dim, level, to.Year())
	}

	q := url.Values{}
	q.Set("from", from.String())
	q.Set("to", to.String())
	var resp changesResponse
	if err := c.get(ctx, fmt.Sprintf("/classifications/%d/changes", id), q, &resp); err != nil {
		return nil, err
	}

	raws := make([]ir.RawChange, 0, len(resp.Changes))
	for _, ch := range resp.Changes {
		occurred, err := ir.ParseDate(ch.ChangeOccurred)
		if err != nil {
			return nil, fmt.Errorf("change %s -> %s: %w", ch.OldCode, ch.NewCode, err)
		}
		raws = append(raws, ir.RawChange{
			OldCode:        ch.OldCode,
			OldName:        ch.OldName,
			NewCode:        ch.NewCode,
			NewName:        ch.NewName,
			ChangeOccurred: occurred,
		})
	}
	return raws, nil
}

// get fetches path with query and decodes the JSON body into v.
func (c *Client) get(ctx context.Context, path string, query url.Values, v any) error {
	return c.do(ctx, http.MethodGet, c.base+path+"?"+query.Encode(), nil, v)
}

// do sends a request and decodes the JSON body into v, retrying transport
// errors, 429 and 5xx responses.
func (c *Client) do(ctx context.Context, method, u string, body []byte, v any) error {
	attempt := 0
	return retry.Do(ctx, c.retry.Backoff(), func(ctx context.Context) error {
		attempt++
		data, err := c.fetch(ctx, method, u, body)
		if err != nil {
			var se *StatusError
			if errors.As(err, &se) && se.StatusCode != http.StatusTooManyRequests && se.StatusCode < 500 {
				return err
			}
			if ctx.Err() != nil {
				return err
			}
			slog.Debug("ssb request failed, retrying", "method", method, "url", u, "attempt", attempt, "error", err)
			return retry.RetryableError(err)
		}
		if err := json.Unmarshal(data, v); err != nil {
			return fmt.Errorf("decode %s: %w", u, err)
		}
		slog.Debug("ssb request", "method", method, "url", u, "bytes", len(data))
		return nil
	})
}

func (c *Client) fetch(ctx context.Context, method, u string, body []byte) ([]byte, error) {
	var r io.Reader
	if body != nil {
		r = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, u, r)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		io.Copy(io.Discard, resp.Body)
		return nil, &StatusError{Method: method, URL: u, StatusCode: resp.StatusCode}
	}
	return io.ReadAll(resp.Body)
}
