package errcode

import (
	"errors"
	"fmt"
)

type Code int

const (
	CodeSuccess  Code = 200
	CodeInternal Code = iota + 1000
	CodeInvalid
	CodeNotFound
	CodeConflict
	CodeNotReady
	CodeFatal
	CodeRetryExhausted
)

var code2str = map[Code]string{
	CodeSuccess:        "success",
	CodeInternal:       "internal error",
	CodeInvalid:        "invalid argument",
	CodeNotFound:       "not found",
	CodeConflict:       "conflict",
	CodeNotReady:       "not ready",
	CodeFatal:          "unrecoverable error",
	CodeRetryExhausted: "retries exhausted",
}

func (c Code) String() string {
	s, ok := code2str[c]
	if !ok {
		return fmt.Sprintf("unknown code: %d", c)
	}
	return s
}

// Kind narrows a Code to the failure that produced it, so callers can
// tell e.g. a missing proxy port from a missing circuit.
type Kind string

const (
	KindNone                  Kind = ""
	KindEVCNotFound           Kind = "evc_not_found"
	KindEVCHasINT             Kind = "evc_has_int"
	KindEVCHasNoINT           Kind = "evc_has_no_int"
	KindFlowsNotFound         Kind = "flows_not_found"
	KindProxyPortNotFound     Kind = "proxy_port_not_found"
	KindProxyPortDestNotFound Kind = "proxy_port_dest_not_found"
	KindProxyPortStatusNotUP  Kind = "proxy_port_status_not_up"
	KindProxyPortSameSource   Kind = "proxy_port_same_source_intra_evc"
	KindUnrecoverable         Kind = "unrecoverable"
	KindRetryExhausted        Kind = "retry_exhausted"
)

var kind2code = map[Kind]Code{
	KindEVCNotFound:           CodeNotFound,
	KindEVCHasINT:             CodeConflict,
	KindEVCHasNoINT:           CodeConflict,
	KindFlowsNotFound:         CodeNotFound,
	KindProxyPortNotFound:     CodeNotFound,
	KindProxyPortDestNotFound: CodeNotFound,
	KindProxyPortStatusNotUP:  CodeNotReady,
	KindProxyPortSameSource:   CodeConflict,
	KindUnrecoverable:         CodeFatal,
	KindRetryExhausted:        CodeRetryExhausted,
}

type ErrorCode struct {
	code    Code
	kind    Kind
	message string
}

func (e ErrorCode) Code() Code { return e.code }
func (e ErrorCode) Kind() Kind { return e.kind }
func (e ErrorCode) Message() string {
	if e.code == CodeSuccess {
		return e.Code().String()
	}
	return fmt.Sprintf("%s: %s", e.code, e.message)
}

func (e ErrorCode) Error() string {
	if e.code == CodeSuccess {
		return e.code.String()
	}
	return fmt.Sprintf("error_code: %d, message: %s", e.Code(), e.Message())
}

func New(code Code, format string, a ...any) ErrorCode {
	return ErrorCode{
		code:    code,
		message: fmt.Sprintf(format, a...),
	}
}

func NewMessage(code Code, msg string) ErrorCode {
	return New(code, "%s", msg)
}

func NewError(code Code, err error) ErrorCode {
	return New(code, "%s", err.Error())
}

// NewKind builds an error of the given kind, its code derived from the kind.
func NewKind(kind Kind, format string, a ...any) ErrorCode {
	code, ok := kind2code[kind]
	if !ok {
		code = CodeInternal
	}
	return ErrorCode{
		code:    code,
		kind:    kind,
		message: fmt.Sprintf(format, a...),
	}
}

// NewEVC builds a circuit scoped error, mirroring "EVC <id>, <reason>".
func NewEVC(kind Kind, evcID string, format string, a ...any) ErrorCode {
	msg := fmt.Sprintf(format, a...)
	if msg == "" {
		msg = string(kind)
	}
	return NewKind(kind, "EVC %s, %s", evcID, msg)
}

func Unrecoverable(format string, a ...any) ErrorCode {
	return NewKind(KindUnrecoverable, format, a...)
}

func RetryExhausted(err error) ErrorCode {
	return NewKind(KindRetryExhausted, "%s", err)
}

func asErrorCode(err error) (ErrorCode, bool) {
	var ec ErrorCode
	if errors.As(err, &ec) {
		return ec, true
	}
	return ErrorCode{}, false
}

// CodeOf returns CodeInternal for errors not produced by this package.
func CodeOf(err error) Code {
	if err == nil {
		return CodeSuccess
	}
	if ec, ok := asErrorCode(err); ok {
		return ec.code
	}
	return CodeInternal
}

func KindOf(err error) Kind {
	if ec, ok := asErrorCode(err); ok {
		return ec.kind
	}
	return KindNone
}

func IsKind(err error, kinds ...Kind) bool {
	k := KindOf(err)
	if k == KindNone {
		return false
	}
	for _, kind := range kinds {
		if k == kind {
			return true
		}
	}
	return false
}

// IsProxyPortError covers every proxy port resolution or readiness failure.
func IsProxyPortError(err error) bool {
	return IsKind(err,
		KindProxyPortNotFound,
		KindProxyPortDestNotFound,
		KindProxyPortStatusNotUP,
		KindProxyPortSameSource,
	)
}

// IsEVCError covers every validation failure raised for a circuit.
func IsEVCError(err error) bool {
	return IsKind(err,
		KindEVCNotFound,
		KindEVCHasINT,
		KindEVCHasNoINT,
		KindFlowsNotFound,
	) || IsProxyPortError(err)
}
