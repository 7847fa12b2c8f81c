package inference

import (
	"errors"
	"fmt"
)

// Code is a numeric backend error code. Codes are stable across the wire.
type Code int32

const (
	CodeOK             Code = 0
	CodeInvalidInput   Code = -1
	CodeForwardTimeout Code = -2

	CodeReadCheckpoint Code = -1000
	CodeCreateSession  Code = -1001
	CodeCreateGraph    Code = -1002
	CodeRestoreVar     Code = -1003
	CodeSessionRun     Code = -1005

	CodeReadEngine  Code = -2000
	CodeLoadEngine  Code = -2001
	CodeDeviceAlloc Code = -2002
	CodeDeviceFree  Code = -2003
	CodeDeviceCopy  Code = -2004

	CodeGlobalStepConflict Code = -3000
	CodeEmptyResponse      Code = -3001

	// CodeUnavailable marks transport failures (connection refused, reset,
	// closed pipeline).
	CodeUnavailable Code = 14
)

// Error is a backend failure carrying a Code. Two Errors match under
// errors.Is when their codes are equal.
type Error struct {
	Code Code
	Msg  string
}

func (e *Error) Error() string {
	return fmt.Sprintf("inference: %s (code %d)", e.Msg, e.Code)
}

func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Code == e.Code
}

var (
	ErrInvalidInput       = &Error{Code: CodeInvalidInput, Msg: "invalid input"}
	ErrForwardTimeout     = &Error{Code: CodeForwardTimeout, Msg: "forward timeout"}
	ErrGlobalStepConflict = &Error{Code: CodeGlobalStepConflict, Msg: "global step conflict"}
	ErrEmptyResponse      = &Error{Code: CodeEmptyResponse, Msg: "empty response"}
	ErrUnavailable        = &Error{Code: CodeUnavailable, Msg: "backend unavailable"}
	ErrNotInitialized     = &Error{Code: CodeInvalidInput, Msg: "model not initialized"}
)

func Errorf(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Msg: fmt.Sprintf(format, args...)}
}

// CodeOf extracts the code of err. Errors without a code map to
// CodeUnavailable, nil to CodeOK.
func CodeOf(err error) Code {
	if err == nil {
		return CodeOK
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return CodeUnavailable
}
