// Package test provides a scripted console for testing.
package test

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"

	"github.com/micromdm/nanouem/uem"
	"github.com/micromdm/nanouem/uem/console"
)

// Call is a request received by Console.
type Call struct {
	Method         string
	Path           string
	Query          url.Values
	Body           []byte
	ContentType    string
	ExpectContinue bool
	Creds          uem.Credentials
}

// Handler produces a response for a call.
// A non-nil error simulates a request that did not complete.
type Handler func(call *Call) (*console.Response, error)

// Console is a console.Gateway that dispatches requests to handlers
// by method and path and records every call it receives.
// Requests without a handler get a 404 response.
type Console struct {
	mu       sync.Mutex
	handlers map[string]Handler
	calls    []Call
}

func New() *Console {
	return &Console{handlers: make(map[string]Handler)}
}

func key(method, path string) string {
	return method + " " + path
}

// Handle registers h for method and path.
func (c *Console) Handle(method, path string, h Handler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers[key(method, path)] = h
}

// Respond registers a fixed response for method and path.
func (c *Console) Respond(method, path string, statusCode int, body string) {
	c.Handle(method, path, func(_ *Call) (*console.Response, error) {
		return &console.Response{StatusCode: statusCode, Body: []byte(body)}, nil
	})
}

// RespondSequence registers responses for method and path that are
// returned in order. The last status code repeats once exhausted.
func (c *Console) RespondSequence(method, path string, statusCodes ...int) {
	var i int
	c.Handle(method, path, func(_ *Call) (*console.Response, error) {
		sc := statusCodes[len(statusCodes)-1]
		if i < len(statusCodes) {
			sc = statusCodes[i]
		}
		i++
		return &console.Response{StatusCode: sc}, nil
	})
}

// Fail registers a network failure for method and path.
func (c *Console) Fail(method, path string) {
	c.Handle(method, path, func(_ *Call) (*console.Response, error) {
		return nil, errors.New("connection reset by peer")
	})
}

// Do records the call and dispatches it to the registered handler.
func (c *Console) Do(_ context.Context, creds *uem.Credentials, req *console.Request) (*console.Response, error) {
	call := Call{
		Method:         req.Method,
		Path:           req.Path,
		Query:          req.Query,
		ContentType:    req.ContentType,
		ExpectContinue: req.ExpectContinue,
	}
	if creds != nil {
		call.Creds = *creds
	}
	if req.Body != nil {
		var err error
		if call.Body, err = io.ReadAll(req.Body); err != nil {
			return nil, fmt.Errorf("reading request body: %w", err)
		}
	}

	c.mu.Lock()
	c.calls = append(c.calls, call)
	h := c.handlers[key(req.Method, req.Path)]
	c.mu.Unlock()

	if h == nil {
		return &console.Response{StatusCode: http.StatusNotFound}, nil
	}
	resp, err := h(&call)
	if err != nil {
		return nil, &uem.TransportError{Op: key(req.Method, req.Path), Err: err}
	}
	return resp, nil
}

// Calls returns every call received.
func (c *Console) Calls() []Call {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Call(nil), c.calls...)
}

// CallsTo returns the calls received for method and path.
func (c *Console) CallsTo(method, path string) (calls []Call) {
	for _, call := range c.Calls() {
		if call.Method == method && call.Path == path {
			calls = append(calls, call)
		}
	}
	return
}
