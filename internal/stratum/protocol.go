// Package stratum implements the client side of the Stratum V1 mining
// protocol: newline-framed transport, request encoding and response
// correlation, and decoding of pool notifications.
package stratum

import (
	"bytes"
	"fmt"
	"strconv"
	"time"

	"github.com/goccy/go-json"
)

// Stratum method names
const (
	MethodSubscribe     = "mining.subscribe"
	MethodAuthorize     = "mining.authorize"
	MethodSubmit        = "mining.submit"
	MethodNotify        = "mining.notify"
	MethodSetDifficulty = "mining.set_difficulty"
	MethodSetExtranonce = "mining.set_extranonce"
	MethodReconnect     = "client.reconnect"
	MethodShowMessage   = "client.show_message"
)

// Message is a Stratum JSON-RPC message as received from the pool.
type Message struct {
	ID     any    `json:"id"`
	Method string `json:"method,omitempty"`
	Params []any  `json:"params,omitempty"`
	Result any    `json:"result,omitempty"`
	Error  *Error `json:"error,omitempty"`
}

// Request is an outgoing client request. Params is always encoded, even when empty.
type Request struct {
	ID     uint64 `json:"id"`
	Method string `json:"method"`
	Params []any  `json:"params"`
}

// Error represents a Stratum error response. Pools send either
// [code, message, traceback] or {"code": .., "message": ..}.
type Error struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

// Common Stratum error codes
const (
	ErrorOther          = 20
	ErrorJobNotFound    = 21
	ErrorDuplicateShare = 22
	ErrorLowDifficulty  = 23
	ErrorUnauthorized   = 24
	ErrorNotSubscribed  = 25
	ErrorInvalidRequest = -32600
	ErrorMethodNotFound = -32601
	ErrorInvalidParams  = -32602
	ErrorParseError     = -32700
)

func (e *Error) Error() string {
	return fmt.Sprintf("stratum error %d: %s", e.Code, e.Message)
}

// UnmarshalJSON accepts both the array and the object error forms.
func (e *Error) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '[' {
		var parts []any
		if err := json.Unmarshal(data, &parts); err != nil {
			return err
		}
		*e = Error{}
		if len(parts) > 0 {
			if code, ok := parts[0].(float64); ok {
				e.Code = int(code)
			}
		}
		if len(parts) > 1 {
			if msg, ok := parts[1].(string); ok {
				e.Message = msg
			}
		}
		if len(parts) > 2 {
			e.Data = parts[2]
		}
		return nil
	}

	type plain Error
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	*e = Error(p)
	return nil
}

// Job is one unit of work announced by mining.notify.
type Job struct {
	JobID        string
	PrevHash     string
	Coinb1       string
	Coinb2       string
	MerkleBranch []string
	Version      string
	NBits        string
	NTime        string
	CleanJobs    bool
	ReceivedAt   time.Time
}

// SubscribeResult is the decoded result of mining.subscribe.
type SubscribeResult struct {
	Subscriptions   any
	ExtraNonce1     string
	ExtraNonce2Size int
}

// DefaultExtraNonce2Size is used when the pool omits the size.
const DefaultExtraNonce2Size = 4

// SubmitRequest holds the mining.submit parameters after the worker name.
type SubmitRequest struct {
	JobID       string
	ExtraNonce2 string
	NTime       string
	Nonce       string
}

// ParseMessage parses a JSON-RPC message from bytes
func ParseMessage(data []byte) (*Message, error) {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("failed to parse JSON: %w", err)
	}
	return &msg, nil
}

// ParseSubscribeResult decodes [subscriptions, extranonce1, extranonce2_size].
func ParseSubscribeResult(result any) (*SubscribeResult, error) {
	arr, ok := result.([]any)
	if !ok || len(arr) < 2 {
		return nil, fmt.Errorf("subscribe result must be an array of at least 2 elements")
	}

	en1, ok := arr[1].(string)
	if !ok || !isHex(en1) {
		return nil, fmt.Errorf("extranonce1 must be a hex string")
	}

	res := &SubscribeResult{
		Subscriptions:   arr[0],
		ExtraNonce1:     en1,
		ExtraNonce2Size: DefaultExtraNonce2Size,
	}
	if len(arr) > 2 {
		size, err := parseExtraNonce2Size(arr[2])
		if err != nil {
			return nil, err
		}
		res.ExtraNonce2Size = size
	}
	return res, nil
}

// ParseSetExtranonce decodes mining.set_extranonce [extranonce1, extranonce2_size].
func ParseSetExtranonce(params []any) (string, int, error) {
	if len(params) < 1 {
		return "", 0, fmt.Errorf("insufficient parameters")
	}
	en1, ok := params[0].(string)
	if !ok || !isHex(en1) {
		return "", 0, fmt.Errorf("extranonce1 must be a hex string")
	}
	size := DefaultExtraNonce2Size
	if len(params) > 1 {
		var err error
		if size, err = parseExtraNonce2Size(params[1]); err != nil {
			return "", 0, err
		}
	}
	return en1, size, nil
}

func parseExtraNonce2Size(v any) (int, error) {
	f, ok := v.(float64)
	if !ok || f < 1 || f > 8 || f != float64(int(f)) {
		return 0, fmt.Errorf("extranonce2_size must be an integer between 1 and 8, got %v", v)
	}
	return int(f), nil
}

// ParseNotify decodes the nine positional mining.notify parameters.
func ParseNotify(params []any) (*Job, error) {
	if len(params) < 9 {
		return nil, fmt.Errorf("mining.notify expects 9 parameters, got %d", len(params))
	}

	str := func(i int, name string, hexLen int) (string, error) {
		s, ok := params[i].(string)
		if !ok {
			return "", fmt.Errorf("%s must be string", name)
		}
		if hexLen < 0 {
			return s, nil
		}
		if !isHex(s) || (hexLen > 0 && len(s) != hexLen) {
			return "", fmt.Errorf("%s is not valid hex of length %d: %q", name, hexLen, s)
		}
		return s, nil
	}

	var (
		job Job
		err error
	)
	if job.JobID, err = str(0, "job_id", -1); err != nil {
		return nil, err
	}
	if job.JobID == "" {
		return nil, fmt.Errorf("job_id must not be empty")
	}
	if job.PrevHash, err = str(1, "prevhash", 64); err != nil {
		return nil, err
	}
	if job.Coinb1, err = str(2, "coinb1", 0); err != nil {
		return nil, err
	}
	if job.Coinb2, err = str(3, "coinb2", 0); err != nil {
		return nil, err
	}

	branch, ok := params[4].([]any)
	if !ok {
		return nil, fmt.Errorf("merkle_branch must be array")
	}
	job.MerkleBranch = make([]string, len(branch))
	for i, b := range branch {
		s, ok := b.(string)
		if !ok || len(s) != 64 || !isHex(s) {
			return nil, fmt.Errorf("merkle_branch[%d] is not a 32-byte hex hash", i)
		}
		job.MerkleBranch[i] = s
	}

	if job.Version, err = str(5, "version", 8); err != nil {
		return nil, err
	}
	if job.NBits, err = str(6, "nbits", 8); err != nil {
		return nil, err
	}
	if job.NTime, err = str(7, "ntime", 8); err != nil {
		return nil, err
	}

	if job.CleanJobs, ok = params[8].(bool); !ok {
		return nil, fmt.Errorf("clean_jobs must be bool")
	}

	job.ReceivedAt = time.Now()
	return &job, nil
}

// ParseSetDifficulty decodes mining.set_difficulty [difficulty].
func ParseSetDifficulty(params []any) (float64, error) {
	if len(params) < 1 {
		return 0, fmt.Errorf("insufficient parameters")
	}
	d, ok := params[0].(float64)
	if !ok {
		return 0, fmt.Errorf("difficulty must be numeric")
	}
	if d <= 0 {
		return 0, fmt.Errorf("difficulty must be positive, got %v", d)
	}
	return d, nil
}

// parseID converts a JSON id to the numeric form the codec assigns.
func parseID(id any) (uint64, bool) {
	switch v := id.(type) {
	case float64:
		if v < 0 || v != float64(uint64(v)) {
			return 0, false
		}
		return uint64(v), true
	case string:
		n, err := strconv.ParseUint(v, 10, 64)
		return n, err == nil
	default:
		return 0, false
	}
}

// isHex reports whether s is an even-length hex string.
func isHex(s string) bool {
	if len(s)%2 != 0 {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') && (c < 'A' || c > 'F') {
			return false
		}
	}
	return true
}
