// Package ipc turns one-way message passing between the processes of a
// deployment into correlated calls. Each process runs one Bridge: proxies on
// the calling side, a Handler on the receiving side, and a Transport that
// carries Messages between them.
package ipc

import (
	"encoding/json"
	"fmt"
	"time"
)

type Kind string

const (
	KindCall   Kind = "call"
	KindResult Kind = "result"
)

// Session control methods, answered by the Handler itself.
const (
	GetSessionMethod   = "__getSession"
	ClearSessionMethod = "__clearSession"
)

type Call struct {
	ClassName  string            `json:"class"`
	MethodName string            `json:"method"`
	Args       []json.RawMessage `json:"args,omitempty"`
	Token      uint64            `json:"token"`
	Oneway     bool              `json:"oneway,omitempty"`
	SessionID  string            `json:"session,omitempty"`
	From       string            `json:"from"`
	Deadline   time.Time         `json:"deadline,omitzero"`
}

// Expired reports whether a caller is still waiting for this call at now.
// Oneway calls never expire.
func (c *Call) Expired(now time.Time) bool {
	return !c.Oneway && !c.Deadline.IsZero() && now.After(c.Deadline)
}

func (c *Call) String() string {
	return fmt.Sprintf("%s.%s#%d", c.ClassName, c.MethodName, c.Token)
}

type Result struct {
	Token        uint64          `json:"token"`
	Value        json.RawMessage `json:"value,omitempty"`
	Failed       bool            `json:"failed,omitempty"`
	ErrorClass   string          `json:"error_class,omitempty"`
	ErrorCode    int             `json:"error_code,omitempty"`
	ErrorMessage string          `json:"error_message,omitempty"`
}

type Message struct {
	Kind   Kind    `json:"kind"`
	From   string  `json:"from,omitempty"`
	Call   *Call   `json:"call,omitempty"`
	Result *Result `json:"result,omitempty"`
}

func callMessage(c *Call) *Message {
	return &Message{Kind: KindCall, From: c.From, Call: c}
}

func resultMessage(from string, r *Result) *Message {
	return &Message{Kind: KindResult, From: from, Result: r}
}

// EncodeArgs marshals each argument into its own JSON value.
func EncodeArgs(args ...interface{}) ([]json.RawMessage, error) {
	out := make([]json.RawMessage, 0, len(args))
	for i, a := range args {
		if raw, ok := a.(json.RawMessage); ok {
			out = append(out, raw)
			continue
		}
		b, err := json.Marshal(a)
		if err != nil {
			return nil, fmt.Errorf("ipc: encode argument %d: %w", i, err)
		}
		out = append(out, b)
	}
	return out, nil
}

// DecodeArgs unmarshals args into dst in order. Missing trailing arguments
// leave their destination untouched.
func DecodeArgs(args []json.RawMessage, dst ...interface{}) error {
	if len(args) > len(dst) {
		return &ServiceError{ErrClass: "BadArguments", Msg: fmt.Sprintf("expected at most %d arguments, got %d", len(dst), len(args))}
	}
	for i, raw := range args {
		if err := json.Unmarshal(raw, dst[i]); err != nil {
			return &ServiceError{ErrClass: "BadArguments", Msg: fmt.Sprintf("argument %d: %v", i, err)}
		}
	}
	return nil
}
