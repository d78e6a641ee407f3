package errs

import "fmt"

// Code identifies an engine failure class. The numeric tags are stable and
// mirror the on-chain vault program's error enum where an equivalent exists,
// so operators can correlate off-chain failures with program logs.
type Code uint8

const (
	CodeInvalidMint           Code = 0
	CodeMathOverflow          Code = 2
	CodeDivisionByZero        Code = 3
	CodeRangeError            Code = 4
	CodeUnsupportedOperation  Code = 5
	CodeInsufficientLiquidity Code = 6
	CodeTruncatedData         Code = 7
	CodeMalformedField        Code = 8
	CodeAccountNotFound       Code = 9
)

func (c Code) String() string {
	switch c {
	case CodeInvalidMint:
		return "invalid_mint"
	case CodeMathOverflow:
		return "math_overflow"
	case CodeDivisionByZero:
		return "division_by_zero"
	case CodeRangeError:
		return "range_error"
	case CodeUnsupportedOperation:
		return "unsupported_operation"
	case CodeInsufficientLiquidity:
		return "insufficient_liquidity"
	case CodeTruncatedData:
		return "truncated_data"
	case CodeMalformedField:
		return "malformed_field"
	case CodeAccountNotFound:
		return "account_not_found"
	}
	return fmt.Sprintf("code_%d", uint8(c))
}

// Error is the tagged failure value used across the decoder, the conversion
// math, and the quote orchestrator. Arithmetic and decode failures abort the
// whole call; there is no retry or partial result.
type Error struct {
	Code Code
	Op   string // the operation that failed, e.g. "calcDepositLpToMint"
	Msg  string // optional detail
}

func (e *Error) Error() string {
	if e.Msg == "" {
		return fmt.Sprintf("%s: %s", e.Op, e.Code)
	}
	return fmt.Sprintf("%s: %s: %s", e.Op, e.Code, e.Msg)
}

// Is matches by code so callers can test against the exported sentinels
// with errors.Is regardless of which operation produced the failure.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// Sentinels for errors.Is matching.
var (
	ErrInvalidMint          = &Error{Code: CodeInvalidMint}
	ErrMathOverflow         = &Error{Code: CodeMathOverflow}
	ErrDivisionByZero       = &Error{Code: CodeDivisionByZero}
	ErrRange                = &Error{Code: CodeRangeError}
	ErrUnsupportedOperation = &Error{Code: CodeUnsupportedOperation}
	ErrTruncatedData        = &Error{Code: CodeTruncatedData}
	ErrMalformedField       = &Error{Code: CodeMalformedField}
	ErrAccountNotFound      = &Error{Code: CodeAccountNotFound}
)

func InvalidMint(op, msg string) error {
	return &Error{Code: CodeInvalidMint, Op: op, Msg: msg}
}

func Overflow(op string) error {
	return &Error{Code: CodeMathOverflow, Op: op}
}

func DivisionByZero(op string) error {
	return &Error{Code: CodeDivisionByZero, Op: op}
}

func Range(op string) error {
	return &Error{Code: CodeRangeError, Op: op, Msg: "result does not fit in u64"}
}

func Unsupported(op, msg string) error {
	return &Error{Code: CodeUnsupportedOperation, Op: op, Msg: msg}
}

func Truncated(op string, want, got int) error {
	return &Error{Code: CodeTruncatedData, Op: op, Msg: fmt.Sprintf("need %d bytes, have %d", want, got)}
}

func Malformed(op, field string) error {
	return &Error{Code: CodeMalformedField, Op: op, Msg: field}
}

func NotFound(op, key string) error {
	return &Error{Code: CodeAccountNotFound, Op: op, Msg: key}
}
