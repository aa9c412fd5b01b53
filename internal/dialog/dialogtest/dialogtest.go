// Package dialogtest provides a scripted COOL client and response builders
// for tests that drive a dialog without a server.
package dialogtest

import (
	"context"
	"sync"

	"github.com/pitabwire/cooldialog/internal/codec"
	"github.com/pitabwire/cooldialog/model"
)

// Handler answers one request.
type Handler func(ctx context.Context, req *model.Request) (*model.Response, error)

// Client implements model.Client by recording every request and answering
// it with a Handler.
type Client struct {
	mu       sync.Mutex
	handler  Handler
	requests []*model.Request
	gate     chan struct{}
	sent     chan *model.Request
}

var _ model.Client = (*Client)(nil)

// NewClient creates a client answering with h. A nil h answers every
// request with an empty response.
func NewClient(h Handler) *Client {
	return &Client{handler: h, sent: make(chan *model.Request, 64)}
}

// SetHandler replaces the handler.
func (c *Client) SetHandler(h Handler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handler = h
}

// Requests returns the requests received so far.
func (c *Client) Requests() []*model.Request {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]*model.Request(nil), c.requests...)
}

// Sent delivers each request as it arrives, before it is answered.
func (c *Client) Sent() <-chan *model.Request { return c.sent }

// Hold makes requests block until release is called or their context ends.
func (c *Client) Hold() (release func()) {
	gate := make(chan struct{})
	c.mu.Lock()
	c.gate = gate
	c.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			c.mu.Lock()
			if c.gate == gate {
				c.gate = nil
			}
			c.mu.Unlock()
			close(gate)
		})
	}
}

func (c *Client) do(ctx context.Context, req *model.Request) (*model.Response, error) {
	c.mu.Lock()
	c.requests = append(c.requests, req)
	h, gate := c.handler, c.gate
	c.mu.Unlock()

	select {
	case c.sent <- req:
	default:
	}

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if h == nil {
		return nil, nil
	}
	return h(ctx, req)
}

func (c *Client) Event(ctx context.Context, req *model.Request) (*model.Response, error) {
	return c.do(ctx, req)
}

func (c *Client) Get(ctx context.Context, req *model.Request) (*model.Response, error) {
	return c.do(ctx, req)
}

func (c *Client) Current(ctx context.Context, req *model.Request) (*model.Response, error) {
	return c.do(ctx, req)
}

func (c *Client) Start(ctx context.Context, req *model.Request) (*model.Response, error) {
	return c.do(ctx, req)
}

func (c *Client) Fork(ctx context.Context, req *model.Request) (*model.Response, error) {
	return c.do(ctx, req)
}

func (c *Client) ChangeDialect(ctx context.Context, req *model.Request) (*model.Response, error) {
	return c.do(ctx, req)
}

func (c *Client) Help(ctx context.Context, req *model.Request) (*model.Response, error) {
	return c.do(ctx, req)
}

// Static answers every request with resp.
func Static(resp *model.Response) Handler {
	return func(context.Context, *model.Request) (*model.Response, error) { return resp, nil }
}

// Script answers requests with resps in order and repeats the last one.
func Script(resps ...*model.Response) Handler {
	var (
		mu sync.Mutex
		i  int
	)
	return func(context.Context, *model.Request) (*model.Response, error) {
		mu.Lock()
		defer mu.Unlock()
		if len(resps) == 0 {
			return nil, nil
		}
		r := resps[min(i, len(resps)-1)]
		i++
		return r, nil
	}
}

// Fail answers every request with err.
func Fail(err error) Handler {
	return func(context.Context, *model.Request) (*model.Response, error) { return nil, err }
}

// Window encodes a window named name whose controls hold values.
func Window(name string, values map[string]any) *model.State {
	return WindowWith(map[string]any{"name": name}, values)
}

// WindowWith encodes a window from attrs, such as "modal" or
// "defaultField", and control values.
func WindowWith(attrs map[string]any, values map[string]any) *model.State {
	w := make(map[string]any, len(attrs)+1)
	for k, v := range attrs {
		w[k] = v
	}
	if len(values) > 0 {
		controls := make(map[string]any, len(values))
		for name, v := range values {
			controls[name] = map[string]any{"name": name, "value": v}
		}
		w["controls"] = controls
	}
	return codec.ToState(w)
}

// Procedure builds a loaded Window procedure digest.
func Procedure(id int64, name string, windows ...*model.State) model.ProcedureDigest {
	return model.ProcedureDigest{
		ID:      id,
		Name:    name,
		Type:    model.ProcedureWindow,
		In:      map[string]any{"procedure": name},
		Out:     map[string]any{"procedure": name},
		Windows: windows,
	}
}

// Response builds a Default response for procedure id.
func Response(id int64, procs ...model.ProcedureDigest) *model.Response {
	return &model.Response{
		ResponseType: model.ResponseDefault,
		ID:           id,
		Procedures:   procs,
	}
}

// MessageBox builds a MessageBox response raised by procedure id that keeps
// procs on screen.
func MessageBox(id int64, box model.MessageBox, procs ...model.ProcedureDigest) *model.Response {
	resp := Response(id, procs...)
	resp.ResponseType = model.ResponseMessageBox
	resp.MessageBox = &box
	return resp
}

// End builds an End response.
func End() *model.Response {
	return &model.Response{ResponseType: model.ResponseEnd}
}
