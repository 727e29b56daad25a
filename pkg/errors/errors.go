package errors

import (
	"fmt"
	"runtime"
	"strings"
	"time"
)

// 平台错误码
// 1xxx 请求类，2xxx 业务规则类，3xxx 下游通道类
const (
	CodeValidation        = 1001 // 缺少必填字段或字段非法
	CodeNotFound          = 1002 // 记录不存在
	CodeForbidden         = 2001 // 调用者不是记录当事人
	CodeInvalidTransition = 2002 // 状态机不允许的流转
	CodeCooldown          = 2003 // 冷却窗口内重复创建
	CodeDelivery          = 3001 // 推送通道失败（只记录，不向调用方传播）
)

// Error represents a custom error with stack trace
type Error struct {
	Code    int        `json:"code"`
	Message string     `json:"message"`
	Err     error      `json:"-"` // 原始错误，不序列化
	Stack   string     `json:"stack,omitempty"`
	Context []KeyValue `json:"context,omitempty"`

	// RetryAfter 仅冷却类错误携带，提示客户端重试间隔
	RetryAfter time.Duration `json:"retryAfter,omitempty"`
}

// KeyValue represents a key-value pair for context
type KeyValue struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// Error implements the error interface
func (e *Error) Error() string {
	if e.Message != "" {
		return e.Message
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return "unknown error"
}

// Unwrap implements the errors.Wrapper interface
func (e *Error) Unwrap() error {
	return e.Err
}

// WithCode creates a new error with code
func WithCode(code int, message string) *Error {
	return &Error{
		Code:    code,
		Message: message,
		Stack:   captureStack(),
	}
}

// WithCodef creates a new error with code and formatted message
func WithCodef(code int, format string, args ...interface{}) *Error {
	return &Error{
		Code:    code,
		Message: fmt.Sprintf(format, args...),
		Stack:   captureStack(),
	}
}

// Validation 参数校验错误，任何变更发生前拒绝
func Validation(field string) *Error {
	return WithCodef(CodeValidation, "missing or invalid field: %s", field)
}

// NotFound 记录不存在
func NotFound(kind string, id uint) *Error {
	return WithCodef(CodeNotFound, "%s %d not found", kind, id)
}

// Forbidden 调用者不是记录当事人
func Forbidden(message string) *Error {
	return WithCode(CodeForbidden, message)
}

// InvalidTransition 非法状态流转，携带 from/to 便于客户端诊断
func InvalidTransition(from, to string) *Error {
	e := WithCodef(CodeInvalidTransition, "invalid transition: %s -> %s", from, to)
	e.Context = append(e.Context,
		KeyValue{Key: "from", Value: from},
		KeyValue{Key: "to", Value: to},
	)
	return e
}

// Cooldown 冷却窗口内重复创建，区别于通用限流
func Cooldown(retryAfter time.Duration) *Error {
	e := WithCodef(CodeCooldown, "cooldown active, retry after %s", retryAfter)
	e.RetryAfter = retryAfter
	return e
}

// Wrap wraps an error with message
func Wrap(err error, message string) *Error {
	if err == nil {
		return nil
	}

	return &Error{
		Message: message,
		Err:     err,
		Stack:   captureStack(),
	}
}

// Wrapf wraps an error with formatted message
func Wrapf(err error, format string, args ...interface{}) *Error {
	if err == nil {
		return nil
	}

	return &Error{
		Message: fmt.Sprintf(format, args...),
		Err:     err,
		Stack:   captureStack(),
	}
}

// New creates a new error
func New(message string) *Error {
	return &Error{
		Message: message,
		Stack:   captureStack(),
	}
}

// Errorf creates a new formatted error
func Errorf(format string, args ...interface{}) *Error {
	return &Error{
		Message: fmt.Sprintf(format, args...),
		Stack:   captureStack(),
	}
}

// WithContext adds context to an error
func (e *Error) WithContext(key, value string) *Error {
	if e == nil {
		return nil
	}

	// 创建新的错误实例以避免修改原始错误
	newErr := &Error{
		Code:       e.Code,
		Message:    e.Message,
		Err:        e.Err,
		Stack:      e.Stack,
		RetryAfter: e.RetryAfter,
		Context:    make([]KeyValue, len(e.Context)),
	}
	copy(newErr.Context, e.Context)
	newErr.Context = append(newErr.Context, KeyValue{Key: key, Value: value})
	return newErr
}

// captureStack captures the current stack trace
func captureStack() string {
	buf := make([]byte, 1024)
	n := runtime.Stack(buf, false)
	stack := string(buf[:n])

	// 移除顶部几行（通常是 captureStack 和 Error 相关的调用）
	lines := strings.Split(stack, "\n")
	if len(lines) > 6 {
		stack = strings.Join(lines[6:], "\n")
	}

	return strings.TrimSpace(stack)
}

// GetCode returns the error code
func GetCode(err error) int {
	if e, ok := err.(*Error); ok {
		return e.Code
	}
	return 0
}

// IsCode reports whether err carries the given platform code
func IsCode(err error, code int) bool {
	return GetCode(err) == code
}

// GetMessage returns the error message
func GetMessage(err error) string {
	if e, ok := err.(*Error); ok {
		return e.Message
	}
	if err != nil {
		return err.Error()
	}
	return ""
}

// Cause returns the underlying error
func Cause(err error) error {
	for err != nil {
		if e, ok := err.(*Error); ok && e.Err != nil {
			err = e.Err
		} else {
			return err
		}
	}
	return err
}

// Format implements fmt.Formatter
func (e *Error) Format(s fmt.State, verb rune) {
	switch verb {
	case 'v':
		if s.Flag('+') {
			fmt.Fprintf(s, "%s", e.Error())
			if e.Stack != "" {
				fmt.Fprintf(s, "\n%s", e.Stack)
			}
			return
		}
		fallthrough
	case 's':
		fmt.Fprintf(s, "%s", e.Error())
	case 'q':
		fmt.Fprintf(s, "%q", e.Error())
	}
}
