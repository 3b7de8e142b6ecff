package ipc

import (
	"errors"
	"fmt"
	"reflect"
	"time"

	"hivecore/pkg/auth"
)

var (
	ErrTimeout       = errors.New("ipc: timed out waiting for reply")
	ErrClosed        = errors.New("ipc: bridge closed")
	ErrUnknownPeer   = errors.New("ipc: unknown peer")
	ErrServiceExists = errors.New("ipc: service already registered")
	ErrFrameTooLarge = errors.New("ipc: frame too large")
	ErrHandshake     = errors.New("ipc: handshake failed")
)

// TimeoutError is returned when no reply arrived in time. The remote side
// may still complete the call.
type TimeoutError struct {
	Target  string
	Call    string
	Timeout time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("ipc: no reply from %s for %s within %s", e.Target, e.Call, e.Timeout)
}

func (e *TimeoutError) Is(target error) bool { return target == ErrTimeout }

// RemoteError carries a failure raised by the remote handler.
type RemoteError struct {
	Target  string
	Class   string
	Code    int
	Message string
}

func (e *RemoteError) Error() string {
	if e.Code != 0 {
		return fmt.Sprintf("ipc: remote %s (%d): %s", e.Class, e.Code, e.Message)
	}
	return fmt.Sprintf("ipc: remote %s: %s", e.Class, e.Message)
}

// Is matches another RemoteError by class, and by code when the target sets
// one. An AccessDenied remote error also matches auth.ErrAccessDenied.
func (e *RemoteError) Is(target error) bool {
	if target == auth.ErrAccessDenied {
		return e.Class == "AccessDenied"
	}
	t, ok := target.(*RemoteError)
	if !ok {
		return false
	}
	return t.Class == e.Class && (t.Code == 0 || t.Code == e.Code)
}

// ServiceError lets a handler choose the class and code the caller sees.
type ServiceError struct {
	ErrClass string
	ErrCode  int
	Msg      string
}

func NewServiceError(class string, code int, msg string) *ServiceError {
	return &ServiceError{ErrClass: class, ErrCode: code, Msg: msg}
}

func (e *ServiceError) Error() string { return e.ErrClass + ": " + e.Msg }
func (e *ServiceError) Class() string { return e.ErrClass }
func (e *ServiceError) Code() int     { return e.ErrCode }

// PanicError is a recovered panic from a service method.
type PanicError struct {
	Call  string
	Value interface{}
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("ipc: %s panicked: %v", e.Call, e.Value)
}

func (e *PanicError) Class() string { return "Panic" }

type classer interface{ Class() string }

type coder interface{ Code() int }

// classify maps err to the (class, code) pair sent to the caller. Errors
// without a Class method are named after their Go type.
func classify(err error) (string, int) {
	class := typeName(err)
	var c classer
	if errors.As(err, &c) {
		class = c.Class()
	}
	code := 0
	var k coder
	if errors.As(err, &k) {
		code = k.Code()
	}
	return class, code
}

func typeName(v interface{}) string {
	t := reflect.TypeOf(v)
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if t.Name() == "" {
		return t.String()
	}
	return t.Name()
}

func failure(token uint64, err error) *Result {
	class, code := classify(err)
	return &Result{
		Token:        token,
		Failed:       true,
		ErrorClass:   class,
		ErrorCode:    code,
		ErrorMessage: err.Error(),
	}
}
