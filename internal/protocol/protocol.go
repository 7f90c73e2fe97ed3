// Package protocol defines the JSON frames exchanged over the daemon's
// websocket. Every message is one self-describing frame:
//
//	{"type":"request","id":7,"op":"get","name":"probe1"}
//	{"type":"reply","id":7,"ok":true,"result":{...}}
//	{"type":"notification","event":"completed","execution":"…","result":{...}}
//
// Exactly one reply answers each request. Notifications are unsolicited and
// arrive on the connection that started the execution.
package protocol

import (
	"encoding/json"
	"fmt"

	"github.com/majorcontext/girasol/internal/errdefs"
	"github.com/majorcontext/girasol/internal/execution"
	"github.com/majorcontext/girasol/internal/model"
)

// Frame types.
const (
	TypeRequest      = "request"
	TypeReply        = "reply"
	TypeNotification = "notification"
)

// Request operations.
const (
	OpQueryAll = "query_all"
	OpGet      = "get"
	OpAdd      = "add"
	OpRemove   = "remove"
	OpStart    = "start"
	OpStop     = "stop"
	OpStatus   = "status"
	OpHistory  = "history"
	OpKill     = "kill"
)

// Notification events.
const (
	EventCompleted = "completed"
	EventOutput    = "output"
)

// Request is a client command.
type Request struct {
	Type string `json:"type"`
	ID   uint64 `json:"id"`
	Op   string `json:"op"`

	Name string `json:"name,omitempty"`
	// Definition is the payload of add, or an ad-hoc definition for start.
	Definition *model.TraceDefinition `json:"definition,omitempty"`
	Round      uint                   `json:"round,omitempty"`
	Pattern    string                 `json:"pattern,omitempty"`
	Limit      int                    `json:"limit,omitempty"`
}

// Error is the failure carried by a reply.
type Error struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Reply answers the request with the same ID.
type Reply struct {
	Type   string          `json:"type"`
	ID     uint64          `json:"id"`
	OK     bool            `json:"ok"`
	Error  *Error          `json:"error,omitempty"`
	Result json.RawMessage `json:"result,omitempty"`
}

// Notification is pushed by a running execution.
type Notification struct {
	Type      string            `json:"type"`
	Event     string            `json:"event"`
	Execution string            `json:"execution"`
	Name      string            `json:"name"`
	Line      string            `json:"line,omitempty"`
	Result    *execution.Result `json:"result,omitempty"`
}

// StartResult acknowledges admission of a start request.
type StartResult struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Remaining uint   `json:"remaining"`
}

// NewRequest builds a request frame.
func NewRequest(id uint64, op string) *Request {
	return &Request{Type: TypeRequest, ID: id, Op: op}
}

// OKReply builds a successful reply. result may be nil.
func OKReply(id uint64, result any) (*Reply, error) {
	r := &Reply{Type: TypeReply, ID: id, OK: true}
	if result != nil {
		data, err := json.Marshal(result)
		if err != nil {
			return nil, errdefs.Wrap(errdefs.ErrSerialization, err, "encoding reply")
		}
		r.Result = data
	}
	return r, nil
}

// ErrorReply builds a failed reply carrying err's wire code.
func ErrorReply(id uint64, err error) *Reply {
	return &Reply{
		Type:  TypeReply,
		ID:    id,
		Error: &Error{Code: errdefs.Code(err), Message: err.Error()},
	}
}

// Err returns the reply's failure as a classified error, or nil.
func (r *Reply) Err() error {
	if r.OK {
		return nil
	}
	if r.Error == nil {
		return errdefs.FromCode(errdefs.CodeInternal, "reply failed without an error")
	}
	return errdefs.FromCode(r.Error.Code, r.Error.Message)
}

// Decode unmarshals the reply result into v.
func (r *Reply) Decode(v any) error {
	if err := r.Err(); err != nil {
		return err
	}
	if len(r.Result) == 0 {
		return nil
	}
	if err := json.Unmarshal(r.Result, v); err != nil {
		return errdefs.Wrap(errdefs.ErrSerialization, err, "decoding reply")
	}
	return nil
}

// OutputNotification carries one matched tracer line.
func OutputNotification(id, name, line string) *Notification {
	return &Notification{Type: TypeNotification, Event: EventOutput, Execution: id, Name: name, Line: line}
}

// CompletedNotification carries a terminal result.
func CompletedNotification(res execution.Result) *Notification {
	return &Notification{Type: TypeNotification, Event: EventCompleted, Execution: res.ID, Name: res.Name, Result: &res}
}

// Parse decodes one frame into a *Request, *Reply or *Notification.
func Parse(data []byte) (any, error) {
	var envelope struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		return nil, errdefs.Wrap(errdefs.ErrSerialization, err, "decoding frame")
	}

	var frame any
	switch envelope.Type {
	case TypeRequest:
		frame = &Request{}
	case TypeReply:
		frame = &Reply{}
	case TypeNotification:
		frame = &Notification{}
	default:
		return nil, errdefs.Invalid("unknown frame type %q", envelope.Type)
	}
	if err := json.Unmarshal(data, frame); err != nil {
		return nil, errdefs.Wrap(errdefs.ErrSerialization, err, fmt.Sprintf("decoding %s frame", envelope.Type))
	}
	return frame, nil
}
