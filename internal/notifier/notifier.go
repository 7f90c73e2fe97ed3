// Package notifier serialises outbound frames on one websocket connection.
//
// Several producers share a connection: the dispatcher writing replies and
// any number of executions pushing notifications. Each Notifier owns a single
// writer goroutine that drains a FIFO queue, so frames leave in the order
// they were enqueued. The writer also sends keep-alive pings, since a
// websocket connection supports only one concurrent writer.
package notifier

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/majorcontext/girasol/internal/errdefs"
	"github.com/majorcontext/girasol/internal/execution"
	"github.com/majorcontext/girasol/internal/log"
	"github.com/majorcontext/girasol/internal/metrics"
	"github.com/majorcontext/girasol/internal/protocol"
)

// Conn is the write side of a websocket connection.
type Conn interface {
	WriteMessage(messageType int, data []byte) error
	WriteControl(messageType int, data []byte, deadline time.Time) error
	SetWriteDeadline(t time.Time) error
}

// Options tune a notifier.
type Options struct {
	// QueueSize is the outbound buffer. Producers wait when it is full.
	QueueSize int
	// WriteTimeout bounds each write and each wait for queue space.
	WriteTimeout time.Duration
	// PingInterval is the keep-alive period. Zero disables pings.
	PingInterval time.Duration
}

func (o Options) withDefaults() Options {
	if o.QueueSize <= 0 {
		o.QueueSize = 256
	}
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = 10 * time.Second
	}
	return o
}

// Notifier is the single writer for one connection.
type Notifier struct {
	conn    Conn
	opts    Options
	session string
	logger  *slog.Logger

	queue     chan outbound
	closed    chan struct{}
	closeOnce sync.Once
	done      chan struct{}
}

type outbound struct {
	kind string
	data []byte
}

// New starts the writer goroutine for conn.
func New(conn Conn, session string, opts Options) *Notifier {
	opts = opts.withDefaults()
	n := &Notifier{
		conn:    conn,
		opts:    opts,
		session: session,
		logger:  log.With("component", "notifier", "session", session),
		queue:   make(chan outbound, opts.QueueSize),
		closed:  make(chan struct{}),
		done:    make(chan struct{}),
	}
	go n.run()
	return n
}

// Session is the connection identifier.
func (n *Notifier) Session() string { return n.session }

// Send enqueues a frame. It fails with ErrTransport once the connection is
// closed, or when the queue stays full for a whole write timeout, in which
// case the connection is closed as a slow consumer.
func (n *Notifier) Send(frame any) error {
	kind := frameType(frame)
	data, err := json.Marshal(frame)
	if err != nil {
		return errdefs.Wrap(errdefs.ErrSerialization, err, "encoding frame")
	}

	select {
	case <-n.closed:
		metrics.RecordFrameDropped()
		return fmt.Errorf("session %s closed: %w", n.session, errdefs.ErrTransport)
	default:
	}

	timer := time.NewTimer(n.opts.WriteTimeout)
	defer timer.Stop()
	select {
	case n.queue <- outbound{kind: kind, data: data}:
		return nil
	case <-n.closed:
		metrics.RecordFrameDropped()
		return fmt.Errorf("session %s closed: %w", n.session, errdefs.ErrTransport)
	case <-timer.C:
		metrics.RecordFrameDropped()
		n.logger.Warn("outbound queue full, closing connection")
		n.Close()
		return fmt.Errorf("session %s outbound queue full: %w", n.session, errdefs.ErrTransport)
	}
}

// Close stops accepting frames. Frames already queued are still written,
// then a close message is sent. It does not wait; see Done.
func (n *Notifier) Close() {
	n.closeOnce.Do(func() { close(n.closed) })
}

// Done is closed when the writer goroutine has exited.
func (n *Notifier) Done() <-chan struct{} {
	return n.done
}

func (n *Notifier) run() {
	defer close(n.done)

	var ping <-chan time.Time
	if n.opts.PingInterval > 0 {
		ticker := time.NewTicker(n.opts.PingInterval)
		defer ticker.Stop()
		ping = ticker.C
	}

	for {
		select {
		case msg := <-n.queue:
			if err := n.write(msg); err != nil {
				n.fail(err)
				return
			}
		case <-ping:
			deadline := time.Now().Add(n.opts.WriteTimeout)
			if err := n.conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				n.fail(err)
				return
			}
		case <-n.closed:
			n.drain()
			return
		}
	}
}

func (n *Notifier) write(msg outbound) error {
	if err := n.conn.SetWriteDeadline(time.Now().Add(n.opts.WriteTimeout)); err != nil {
		return err
	}
	if err := n.conn.WriteMessage(websocket.TextMessage, msg.data); err != nil {
		return err
	}
	metrics.RecordFrame("out", msg.kind)
	return nil
}

// drain flushes what was queued before Close and says goodbye.
func (n *Notifier) drain() {
	for {
		select {
		case msg := <-n.queue:
			if err := n.write(msg); err != nil {
				n.logger.Debug("write failed while draining", "error", err)
				return
			}
		default:
			deadline := time.Now().Add(n.opts.WriteTimeout)
			_ = n.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
			return
		}
	}
}

func (n *Notifier) fail(err error) {
	n.logger.Debug("connection write failed", "error", err)
	n.Close()
	for {
		select {
		case <-n.queue:
			metrics.RecordFrameDropped()
		default:
			return
		}
	}
}

// Line implements execution.Reporter.
func (n *Notifier) Line(id, name, line string) {
	if err := n.Send(protocol.OutputNotification(id, name, line)); err != nil {
		n.logger.Debug("dropping output notification", "trace", name, "error", err)
	}
}

// Finished implements execution.Reporter.
func (n *Notifier) Finished(res execution.Result) {
	if err := n.Send(protocol.CompletedNotification(res)); err != nil {
		n.logger.Debug("dropping completion notification", "trace", res.Name, "error", err)
	}
}

func frameType(frame any) string {
	switch frame.(type) {
	case *protocol.Reply, protocol.Reply:
		return protocol.TypeReply
	case *protocol.Notification, protocol.Notification:
		return protocol.TypeNotification
	case *protocol.Request, protocol.Request:
		return protocol.TypeRequest
	}
	return "other"
}
