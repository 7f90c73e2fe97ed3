package daemon

import (
	"context"
	"log/slog"
	"time"

	"github.com/gorilla/websocket"

	"github.com/majorcontext/girasol/internal/errdefs"
	"github.com/majorcontext/girasol/internal/execution"
	"github.com/majorcontext/girasol/internal/metrics"
	"github.com/majorcontext/girasol/internal/model"
	"github.com/majorcontext/girasol/internal/protocol"
	"github.com/majorcontext/girasol/internal/supervisor"
)

// requestTimeout bounds one request's wait on the catalog or supervisor.
const requestTimeout = 30 * time.Second

// dispatcher serves one session: it reads request frames, routes each to
// the catalog or the supervisor, and queues exactly one reply per request
// on the session's notifier.
type dispatcher struct {
	s      *Server
	sess   *Session
	ws     *websocket.Conn
	logger *slog.Logger
}

func newDispatcher(s *Server, sess *Session, ws *websocket.Conn) *dispatcher {
	return &dispatcher{s: s, sess: sess, ws: ws, logger: s.logger.With("session", sess.ID)}
}

func (d *dispatcher) readLoop() {
	d.ws.SetReadLimit(d.s.opts.MaxMessageSize)
	if ping := d.s.opts.Transport.PingInterval; ping > 0 {
		// A client that stops answering pings is dropped after two periods.
		readTimeout := 2 * ping
		_ = d.ws.SetReadDeadline(time.Now().Add(readTimeout))
		d.ws.SetPongHandler(func(string) error {
			return d.ws.SetReadDeadline(time.Now().Add(readTimeout))
		})
	}

	for {
		_, data, err := d.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				d.logger.Debug("websocket read failed", "error", err)
			}
			return
		}

		frame, err := protocol.Parse(data)
		if err != nil {
			metrics.RecordFrame("in", "invalid")
			d.reply(protocol.ErrorReply(0, err))
			continue
		}
		req, ok := frame.(*protocol.Request)
		if !ok {
			metrics.RecordFrame("in", "invalid")
			d.reply(protocol.ErrorReply(0, errdefs.Invalid("clients may only send requests")))
			continue
		}
		metrics.RecordFrame("in", protocol.TypeRequest)
		d.handle(req)
	}
}

func (d *dispatcher) handle(req *protocol.Request) {
	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()

	// Notifications for a start must not overtake its reply.
	var reporter execution.Reporter
	if req.Op == protocol.OpStart {
		gate := newGatedReporter(d.sess.Notifier)
		defer gate.open()
		reporter = gate
	}

	result, err := d.route(ctx, req, reporter)
	if err != nil {
		d.logger.Debug("request failed", "op", req.Op, "id", req.ID, "error", err)
		d.reply(protocol.ErrorReply(req.ID, err))
		return
	}

	reply, err := protocol.OKReply(req.ID, result)
	if err != nil {
		d.reply(protocol.ErrorReply(req.ID, err))
		return
	}
	d.reply(reply)

	if req.Op == protocol.OpKill && d.s.onKill != nil {
		d.logger.Info("shutdown requested by client")
		go d.s.onKill()
	}
}

func (d *dispatcher) reply(r *protocol.Reply) {
	if err := d.sess.Notifier.Send(r); err != nil {
		d.logger.Debug("reply dropped", "id", r.ID, "error", err)
	}
}

func (d *dispatcher) route(ctx context.Context, req *protocol.Request, reporter execution.Reporter) (any, error) {
	cat, sup := d.s.opts.Catalog, d.s.opts.Supervisor

	switch req.Op {
	case protocol.OpQueryAll:
		defs, err := cat.QueryAll(ctx)
		if err != nil {
			return nil, err
		}
		if defs == nil {
			defs = []model.TraceDefinition{}
		}
		return defs, nil

	case protocol.OpGet:
		if req.Name == "" {
			return nil, errdefs.Invalid("get requires a name")
		}
		return cat.Get(ctx, req.Name)

	case protocol.OpAdd:
		if req.Definition == nil {
			return nil, errdefs.Invalid("add requires a definition")
		}
		return nil, cat.Add(ctx, *req.Definition)

	case protocol.OpRemove:
		if req.Name == "" {
			return nil, errdefs.Invalid("remove requires a name")
		}
		return nil, cat.Remove(ctx, req.Name)

	case protocol.OpStart:
		def, err := d.startDefinition(ctx, req)
		if err != nil {
			return nil, err
		}
		running, err := sup.Start(ctx, supervisor.StartRequest{
			Definition: def,
			Rounds:     req.Round,
			Pattern:    req.Pattern,
			Reporter:   reporter,
			Session:    d.sess.ID,
		})
		if err != nil {
			return nil, err
		}
		return protocol.StartResult{
			ID:        running.ID(),
			Name:      running.Name,
			Remaining: running.Remaining().Remaining(),
		}, nil

	case protocol.OpStop:
		if req.Name == "" {
			return nil, errdefs.Invalid("stop requires a name")
		}
		return nil, sup.Stop(ctx, req.Name)

	case protocol.OpStatus:
		return sup.List(ctx)

	case protocol.OpHistory:
		if d.s.opts.History == nil {
			return nil, errdefs.Wrap(errdefs.ErrUnavailable, errNoHistory, "history")
		}
		results, err := d.s.opts.History.List(ctx, req.Name, req.Limit)
		if err != nil {
			return nil, err
		}
		if results == nil {
			results = []execution.Result{}
		}
		return results, nil

	case protocol.OpKill:
		return nil, nil
	}
	return nil, errdefs.Invalid("unknown op %q", req.Op)
}

// startDefinition returns the inline definition of an ad-hoc start, or the
// stored one.
func (d *dispatcher) startDefinition(ctx context.Context, req *protocol.Request) (model.TraceDefinition, error) {
	if req.Definition != nil {
		return *req.Definition, nil
	}
	if req.Name == "" {
		return model.TraceDefinition{}, errdefs.Invalid("start requires a name or a definition")
	}
	return d.s.opts.Catalog.Get(ctx, req.Name)
}
