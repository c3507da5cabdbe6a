// Package console implements the HTTP transport for the Workspace ONE UEM REST API.
package console

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/micromdm/nanouem/log/logkeys"
	"github.com/micromdm/nanouem/uem"

	"github.com/micromdm/nanolib/log"
	"github.com/micromdm/nanolib/log/ctxlog"
)

const (
	ContentTypeJSON  = "application/json"
	ContentTypeOctet = "application/octet-stream"
)

// Request is a single console API request.
type Request struct {
	Method string

	// Path is the API path including the leading slash, i.e. /API/mam/apps/search.
	Path  string
	Query url.Values

	Body          io.Reader
	ContentType   string
	ContentLength int64

	// ExpectContinue sends an "Expect: 100-continue" header.
	ExpectContinue bool
}

// Response is a completed console API request.
type Response struct {
	StatusCode int
	Body       []byte
}

// Gateway issues requests to a console.
// Errors are only returned when the request did not complete; callers
// decide what HTTP status codes mean.
type Gateway interface {
	Do(ctx context.Context, creds *uem.Credentials, req *Request) (*Response, error)
}

// Doer executes HTTP requests.
type Doer interface {
	Do(*http.Request) (*http.Response, error)
}

// Client sends requests to a console over HTTP.
type Client struct {
	client Doer
	logger log.Logger
	dump   io.Writer
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient sets the HTTP client.
func WithHTTPClient(client Doer) Option {
	return func(c *Client) {
		c.client = client
	}
}

// WithLogger sets the client logger.
func WithLogger(logger log.Logger) Option {
	return func(c *Client) {
		c.logger = logger
	}
}

// WithDebugDump writes the status code and body of every response to w.
func WithDebugDump(w io.Writer) Option {
	return func(c *Client) {
		c.dump = w
	}
}

// New creates a new console client.
func New(opts ...Option) *Client {
	c := &Client{
		client: http.DefaultClient,
		logger: log.NopLogger,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// NewHTTPRequest builds an HTTP request for req using the console
// header conventions and the host and credentials in creds.
func NewHTTPRequest(ctx context.Context, creds *uem.Credentials, req *Request) (*http.Request, error) {
	if creds == nil {
		return nil, fmt.Errorf("%w: empty credentials", uem.ErrConfiguration)
	}
	u := strings.TrimRight(creds.BaseURL, "/") + req.Path
	if len(req.Query) > 0 {
		u += "?" + req.Query.Encode()
	}
	httpReq, err := http.NewRequestWithContext(ctx, req.Method, u, req.Body)
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Accept", ContentTypeJSON)
	httpReq.Header.Set("aw-tenant-code", creds.TenantCode)
	httpReq.Header.Set("Authorization", "Basic "+creds.Auth)
	if req.Body != nil {
		ct := req.ContentType
		if ct == "" {
			ct = ContentTypeJSON
		}
		httpReq.Header.Set("Content-Type", ct)
	}
	if req.ContentLength > 0 {
		httpReq.ContentLength = req.ContentLength
	}
	if req.ExpectContinue {
		httpReq.Header.Set("Expect", "100-continue")
	}
	return httpReq, nil
}

// Do sends req to the console described by creds.
func (c *Client) Do(ctx context.Context, creds *uem.Credentials, req *Request) (*Response, error) {
	op := req.Method + " " + req.Path
	httpReq, err := NewHTTPRequest(ctx, creds, req)
	if err != nil {
		return nil, &uem.TransportError{Op: op, Err: err}
	}
	logger := ctxlog.Logger(ctx, c.logger).With("method", req.Method, "path", req.Path)

	httpResp, err := c.client.Do(httpReq)
	if err != nil {
		logger.Info(logkeys.Message, "console request", logkeys.Error, err)
		return nil, &uem.TransportError{Op: op, Err: err}
	}
	defer httpResp.Body.Close()

	body, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, &uem.TransportError{Op: op, StatusCode: httpResp.StatusCode, Err: fmt.Errorf("reading body: %w", err)}
	}
	logger.Debug(
		logkeys.Message, "console request",
		logkeys.StatusCode, httpResp.StatusCode,
		"length", len(body),
	)
	if c.dump != nil {
		fmt.Fprintf(c.dump, "%s: response code: %d\n", op, httpResp.StatusCode)
		if len(body) > 0 {
			fmt.Fprintf(c.dump, "%s\n", bytes.TrimSpace(body))
		}
	}
	return &Response{StatusCode: httpResp.StatusCode, Body: body}, nil
}
