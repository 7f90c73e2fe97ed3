package daemon

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/majorcontext/girasol/internal/errdefs"
	"github.com/majorcontext/girasol/internal/execution"
	"github.com/majorcontext/girasol/internal/model"
	"github.com/majorcontext/girasol/internal/protocol"
	"github.com/majorcontext/girasol/internal/supervisor"
)

// notificationBuffer is how many notifications a client holds before the
// reader blocks.
const notificationBuffer = 256

// Client talks to the daemon over one websocket connection. Requests may be
// issued concurrently; each waits for the reply carrying its id.
type Client struct {
	addr string
	ws   *websocket.Conn

	writeMu sync.Mutex
	nextID  atomic.Uint64

	mu      sync.Mutex
	pending map[uint64]chan *protocol.Reply
	err     error

	notifications chan *protocol.Notification
	done          chan struct{}
}

// Dial connects to the daemon listening on addr (host:port).
func Dial(ctx context.Context, addr string) (*Client, error) {
	url := fmt.Sprintf("ws://%s/v1/ws", addr)
	ws, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, errdefs.Wrap(errdefs.ErrTransport, err, fmt.Sprintf("connecting to daemon at %s", addr))
	}
	c := &Client{
		addr:          addr,
		ws:            ws,
		pending:       make(map[uint64]chan *protocol.Reply),
		notifications: make(chan *protocol.Notification, notificationBuffer),
		done:          make(chan struct{}),
	}
	go c.readLoop()
	return c, nil
}

// Addr is the daemon address the client dialed.
func (c *Client) Addr() string { return c.addr }

// Notifications delivers output and completion frames for executions this
// connection started. The channel closes when the connection does.
func (c *Client) Notifications() <-chan *protocol.Notification { return c.notifications }

// Done is closed when the connection is gone.
func (c *Client) Done() <-chan struct{} { return c.done }

// Close closes the connection.
func (c *Client) Close() error {
	c.writeMu.Lock()
	_ = c.ws.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
	c.writeMu.Unlock()
	err := c.ws.Close()
	<-c.done
	return err
}

func (c *Client) readLoop() {
	defer close(c.done)
	defer close(c.notifications)

	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			c.fail(errdefs.Wrap(errdefs.ErrTransport, err, "connection closed"))
			return
		}
		frame, err := protocol.Parse(data)
		if err != nil {
			continue
		}
		switch f := frame.(type) {
		case *protocol.Reply:
			c.mu.Lock()
			ch, ok := c.pending[f.ID]
			delete(c.pending, f.ID)
			c.mu.Unlock()
			if ok {
				ch <- f
			}
		case *protocol.Notification:
			c.notifications <- f
		}
	}
}

func (c *Client) fail(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.err = err
	for id, ch := range c.pending {
		close(ch)
		delete(c.pending, id)
	}
}

// Call sends req and waits for its reply. The request id is assigned here.
func (c *Client) Call(ctx context.Context, req *protocol.Request) (*protocol.Reply, error) {
	req.Type = protocol.TypeRequest
	req.ID = c.nextID.Add(1)

	ch := make(chan *protocol.Reply, 1)
	c.mu.Lock()
	if c.err != nil {
		err := c.err
		c.mu.Unlock()
		return nil, err
	}
	c.pending[req.ID] = ch
	c.mu.Unlock()

	data, err := json.Marshal(req)
	if err != nil {
		c.forget(req.ID)
		return nil, errdefs.Wrap(errdefs.ErrSerialization, err, "encoding request")
	}
	c.writeMu.Lock()
	if deadline, ok := ctx.Deadline(); ok {
		_ = c.ws.SetWriteDeadline(deadline)
	} else {
		_ = c.ws.SetWriteDeadline(time.Time{})
	}
	err = c.ws.WriteMessage(websocket.TextMessage, data)
	c.writeMu.Unlock()
	if err != nil {
		c.forget(req.ID)
		return nil, errdefs.Wrap(errdefs.ErrTransport, err, "sending request")
	}

	select {
	case reply, ok := <-ch:
		if !ok {
			c.mu.Lock()
			defer c.mu.Unlock()
			return nil, c.err
		}
		return reply, nil
	case <-ctx.Done():
		c.forget(req.ID)
		return nil, ctx.Err()
	}
}

func (c *Client) forget(id uint64) {
	c.mu.Lock()
	delete(c.pending, id)
	c.mu.Unlock()
}

func (c *Client) do(ctx context.Context, req *protocol.Request, out any) error {
	reply, err := c.Call(ctx, req)
	if err != nil {
		return err
	}
	return reply.Decode(out)
}

// QueryAll lists every stored definition in key order.
func (c *Client) QueryAll(ctx context.Context) ([]model.TraceDefinition, error) {
	var defs []model.TraceDefinition
	err := c.do(ctx, protocol.NewRequest(0, protocol.OpQueryAll), &defs)
	return defs, err
}

// Get fetches one definition.
func (c *Client) Get(ctx context.Context, name string) (model.TraceDefinition, error) {
	req := protocol.NewRequest(0, protocol.OpGet)
	req.Name = name
	var def model.TraceDefinition
	err := c.do(ctx, req, &def)
	return def, err
}

// Add stores a new definition.
func (c *Client) Add(ctx context.Context, def model.TraceDefinition) error {
	req := protocol.NewRequest(0, protocol.OpAdd)
	req.Definition = &def
	return c.do(ctx, req, nil)
}

// Remove deletes a stored definition.
func (c *Client) Remove(ctx context.Context, name string) error {
	req := protocol.NewRequest(0, protocol.OpRemove)
	req.Name = name
	return c.do(ctx, req, nil)
}

// StartOptions narrows a start request.
type StartOptions struct {
	// Definition starts an unstored definition instead of looking up name.
	Definition *model.TraceDefinition
	Rounds     uint
	Pattern    string
}

// Start asks the daemon to run the named definition. Output and the
// completion notification arrive on Notifications.
func (c *Client) Start(ctx context.Context, name string, opts StartOptions) (protocol.StartResult, error) {
	req := protocol.NewRequest(0, protocol.OpStart)
	req.Name = name
	req.Definition = opts.Definition
	req.Round = opts.Rounds
	req.Pattern = opts.Pattern
	var res protocol.StartResult
	err := c.do(ctx, req, &res)
	return res, err
}

// Stop interrupts a running execution.
func (c *Client) Stop(ctx context.Context, name string) error {
	req := protocol.NewRequest(0, protocol.OpStop)
	req.Name = name
	return c.do(ctx, req, nil)
}

// Status lists running executions.
func (c *Client) Status(ctx context.Context) ([]supervisor.Status, error) {
	var st []supervisor.Status
	err := c.do(ctx, protocol.NewRequest(0, protocol.OpStatus), &st)
	return st, err
}

// History lists finished executions, newest first. An empty name lists all.
func (c *Client) History(ctx context.Context, name string, limit int) ([]execution.Result, error) {
	req := protocol.NewRequest(0, protocol.OpHistory)
	req.Name = name
	req.Limit = limit
	var results []execution.Result
	err := c.do(ctx, req, &results)
	return results, err
}

// Kill asks the daemon to shut down. The reply arrives before shutdown
// starts.
func (c *Client) Kill(ctx context.Context) error {
	return c.do(ctx, protocol.NewRequest(0, protocol.OpKill), nil)
}

// WaitCompleted waits for the completion notification of execution id,
// passing every output line for it to onLine.
func (c *Client) WaitCompleted(ctx context.Context, id string, onLine func(string)) (execution.Result, error) {
	for {
		select {
		case n, ok := <-c.notifications:
			if !ok {
				c.mu.Lock()
				err := c.err
				c.mu.Unlock()
				return execution.Result{}, err
			}
			if n.Execution != id {
				continue
			}
			switch n.Event {
			case protocol.EventOutput:
				if onLine != nil {
					onLine(n.Line)
				}
			case protocol.EventCompleted:
				if n.Result == nil {
					return execution.Result{}, errdefs.FromCode(errdefs.CodeInternal, "completion without a result")
				}
				return *n.Result, nil
			}
		case <-ctx.Done():
			return execution.Result{}, ctx.Err()
		}
	}
}

// Health fetches GET /v1/health from the daemon at addr.
func Health(ctx context.Context, addr string) (*HealthResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fmt.Sprintf("http://%s/v1/health", addr), nil)
	if err != nil {
		return nil, err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, errdefs.Wrap(errdefs.ErrTransport, err, "connecting to daemon")
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, errdefs.Wrap(errdefs.ErrTransport, fmt.Errorf("status %d", resp.StatusCode), "health check")
	}
	var health HealthResponse
	if err := json.NewDecoder(resp.Body).Decode(&health); err != nil {
		return nil, errdefs.Wrap(errdefs.ErrSerialization, err, "decoding health")
	}
	return &health, nil
}
