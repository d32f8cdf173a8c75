package stratum

import (
	"bytes"
	"sync"

	"github.com/floatdrop/lru"
	"github.com/goccy/go-json"

	minerErrors "github.com/bardlex/gompminer/pkg/errors"
)

// DefaultPendingRequests bounds the id -> method table. Pools never answer
// some requests (keepalive re-authorizations in particular), so old entries
// are evicted rather than kept forever.
const DefaultPendingRequests = 1024

// Inbound is a decoded pool message: *Response, *Notify, *SetDifficulty or
// *ServerCommand.
type Inbound interface {
	inbound()
}

// Response answers one of our requests. Method is empty when the id was not
// found in the pending table.
type Response struct {
	ID     uint64
	Method string
	Result any
	Error  *Error
	// Submit is set when Method is mining.submit.
	Submit *SubmitRequest
}

// Notify carries a new job.
type Notify struct {
	Job *Job
}

// SetDifficulty carries a new share difficulty.
type SetDifficulty struct {
	Difficulty float64
}

// ServerCommand is any other server-initiated method, such as
// mining.set_extranonce or client.reconnect.
type ServerCommand struct {
	ID     any
	Method string
	Params []any
}

func (*Response) inbound()      {}
func (*Notify) inbound()        {}
func (*SetDifficulty) inbound() {}
func (*ServerCommand) inbound() {}

// Accepted reports whether the pool answered true without an error.
func (r *Response) Accepted() bool {
	ok, _ := r.Result.(bool)
	return ok && r.Error == nil
}

// Reason is the pool-supplied failure text.
func (r *Response) Reason() string {
	if r.Error != nil {
		if r.Error.Message != "" {
			return r.Error.Message
		}
		return r.Error.Error()
	}
	if r.Result == nil {
		return "no result"
	}
	return "rejected"
}

type pendingRequest struct {
	method string
	submit *SubmitRequest
}

// Codec encodes client requests with fresh ids and decodes pool lines,
// correlating responses with the request that caused them. It is safe for
// concurrent use.
type Codec struct {
	mu      sync.Mutex
	nextID  uint64
	pending *lru.LRU[uint64, pendingRequest]
}

// NewCodec creates a codec remembering at most size outstanding requests.
func NewCodec(size int) *Codec {
	if size <= 0 {
		size = DefaultPendingRequests
	}
	return &Codec{
		pending: lru.New[uint64, pendingRequest](size),
	}
}

// Subscribe encodes mining.subscribe.
func (c *Codec) Subscribe(userAgent string) ([]byte, uint64, error) {
	params := []any{}
	if userAgent != "" {
		params = append(params, userAgent)
	}
	return c.encode(MethodSubscribe, params, nil)
}

// Authorize encodes mining.authorize.
func (c *Codec) Authorize(user, password string) ([]byte, uint64, error) {
	return c.encode(MethodAuthorize, []any{user, password}, nil)
}

// Submit encodes mining.submit for the given worker.
func (c *Codec) Submit(user string, share SubmitRequest) ([]byte, uint64, error) {
	params := []any{user, share.JobID, share.ExtraNonce2, share.NTime, share.Nonce}
	return c.encode(MethodSubmit, params, &share)
}

func (c *Codec) encode(method string, params []any, submit *SubmitRequest) ([]byte, uint64, error) {
	c.mu.Lock()
	c.nextID++
	id := c.nextID
	c.pending.Set(id, pendingRequest{method: method, submit: submit})
	c.mu.Unlock()

	buf := getBuffer()
	defer putBuffer(buf)

	if err := json.NewEncoder(buf).Encode(&Request{ID: id, Method: method, Params: params}); err != nil {
		c.forget(id)
		return nil, 0, minerErrors.Wrap(err, minerErrors.ErrorTypeProtocol, "encode", "failed to encode "+method)
	}
	return bytes.Clone(bytes.TrimRight(buf.Bytes(), "\n")), id, nil
}

func (c *Codec) forget(id uint64) {
	c.mu.Lock()
	c.pending.Remove(id)
	c.mu.Unlock()
}

// Decode turns one line into an Inbound message. Malformed input yields a
// protocol error; the caller drops the line and keeps reading.
func (c *Codec) Decode(line []byte) (Inbound, error) {
	msg, err := ParseMessage(line)
	if err != nil {
		return nil, minerErrors.Wrap(err, minerErrors.ErrorTypeProtocol, "decode", "malformed JSON")
	}

	if msg.Method != "" {
		return decodeMethod(msg)
	}

	if msg.ID == nil {
		return nil, minerErrors.Protocol("decode", "message has neither method nor id")
	}
	id, ok := parseID(msg.ID)
	if !ok {
		return nil, minerErrors.Protocol("decode", "response id is not a request id").
			WithContext("id", msg.ID)
	}

	resp := &Response{ID: id, Result: msg.Result, Error: msg.Error}

	c.mu.Lock()
	if p := c.pending.Get(id); p != nil {
		resp.Method = p.method
		resp.Submit = p.submit
		c.pending.Remove(id)
	}
	c.mu.Unlock()

	return resp, nil
}

func decodeMethod(msg *Message) (Inbound, error) {
	switch msg.Method {
	case MethodNotify:
		job, err := ParseNotify(msg.Params)
		if err != nil {
			return nil, minerErrors.Protocol("decode", err.Error()).WithContext("method", msg.Method)
		}
		return &Notify{Job: job}, nil

	case MethodSetDifficulty:
		d, err := ParseSetDifficulty(msg.Params)
		if err != nil {
			return nil, minerErrors.Protocol("decode", err.Error()).WithContext("method", msg.Method)
		}
		return &SetDifficulty{Difficulty: d}, nil

	default:
		return &ServerCommand{ID: msg.ID, Method: msg.Method, Params: msg.Params}, nil
	}
}
