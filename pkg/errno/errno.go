package errno

import (
	"errors"
	"fmt"
)

// Errno defines the error code logic
type Errno struct {
	Code    int
	Message string
}

func (e Errno) Error() string {
	return e.Message
}

// WithMessage 返回带自定义描述的副本 (例如参数校验的具体字段信息)
func (e Errno) WithMessage(msg string) Errno {
	e.Message = msg
	return e
}

// StageError 记录失败发生的阶段 (build / sign / broadcast / poll ...) 与底层原因
// errors.Is 既能匹配 Kind (errno.ErrBroadcast)，也能匹配原始 cause
type StageError struct {
	Stage string
	Kind  Errno
	Err   error
}

func (e *StageError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Stage, e.Kind.Message)
	}
	return fmt.Sprintf("%s: %s: %v", e.Stage, e.Kind.Message, e.Err)
}

func (e *StageError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// Wrap 构造 StageError
func Wrap(stage string, kind Errno, err error) error {
	return &StageError{Stage: stage, Kind: kind, Err: err}
}

// Decode tries to convert an error to Errno
func Decode(err error) (int, string) {
	if err == nil {
		return OK.Code, OK.Message
	}

	var stageErr *StageError
	if errors.As(err, &stageErr) {
		return stageErr.Kind.Code, stageErr.Error()
	}

	var typed Errno
	if errors.As(err, &typed) {
		return typed.Code, typed.Message
	}

	var ptr *Errno
	if errors.As(err, &ptr) && ptr != nil {
		return ptr.Code, ptr.Message
	}

	return InternalServerError.Code, err.Error()
}

// Common Errors
var (
	OK                  = Errno{Code: 0, Message: "Success"}
	InternalServerError = Errno{Code: 10001, Message: "Internal server error"}
	ErrBind             = Errno{Code: 10002, Message: "Error occurred while binding the request body to the struct"}
	ErrDatabase         = Errno{Code: 10004, Message: "Database error"}
	ErrNotFound         = Errno{Code: 10005, Message: "Record not found"}
)

// Chain Errors (30000+)
var (
	ErrConnection   = Errno{Code: 30001, Message: "RPC node unreachable"}
	ErrTimeout      = Errno{Code: 30002, Message: "RPC call timed out"}
	ErrTransientRPC = Errno{Code: 30003, Message: "Transient RPC failure"}
	ErrRPCProtocol  = Errno{Code: 30004, Message: "RPC protocol error"}
)

// Signer / Account Errors (30100+, 30200+)
var (
	ErrSignerUnavailable = Errno{Code: 30101, Message: "External signer unavailable"}
	ErrSignerBusy        = Errno{Code: 30102, Message: "External signer request already pending"}
	ErrAccountNotFound   = Errno{Code: 30201, Message: "Account not found on node"}
	ErrKeyMismatch       = Errno{Code: 30202, Message: "Derived key does not match account"}
	ErrInvalidAddress    = Errno{Code: 30203, Message: "Invalid address"}
	ErrInvalidMnemonic   = Errno{Code: 30204, Message: "Invalid mnemonic"}
)

// Transaction Errors (30300+)
var (
	ErrGasEstimation = Errno{Code: 30301, Message: "Gas estimation failed"}
	ErrSigning       = Errno{Code: 30302, Message: "Transaction signing failed"}
	ErrBroadcast     = Errno{Code: 30303, Message: "Transaction broadcast rejected"}
	ErrBuild         = Errno{Code: 30304, Message: "Transaction build failed"}
	ErrInvalidAmount = Errno{Code: 30305, Message: "Invalid amount"}
	ErrTrackFailed   = Errno{Code: 30306, Message: "Confirmation tracking failed"}
)
