// Package xerrors 提供 pubsub 的错误处理工具和错误分类码。
//
// 错误分类：
//   - INVALID_ENDPOINT:      端点缺少必填属性，拒绝并记录日志
//   - MALFORMED_PAYLOAD:     目录中的值无法解码，丢弃该事件
//   - DIRECTORY_UNAVAILABLE: 目录服务暂时不可用，下个周期重试
//   - NO_MATCHING_ADMIN:     没有 admin 能处理该端点，不算错误
//   - DUPLICATE_ANNOUNCE:    重复发布，按更新处理
package xerrors

import (
	"errors"
	"fmt"
)

// 错误分类码
const (
	CodeInvalidEndpoint      = "INVALID_ENDPOINT"
	CodeMalformedPayload     = "MALFORMED_PAYLOAD"
	CodeDirectoryUnavailable = "DIRECTORY_UNAVAILABLE"
	CodeNoMatchingAdmin      = "NO_MATCHING_ADMIN"
	CodeDuplicateAnnounce    = "DUPLICATE_ANNOUNCE"
)

// Wrap 用上下文信息包装错误，保留错误链。
func Wrap(err error, msg string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", msg, err)
}

// Wrapf 用格式化的上下文信息包装错误。
func Wrapf(err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), err)
}

// CodedError 带有机器可读错误码的错误。
type CodedError struct {
	Code  string
	Cause error
}

func (e *CodedError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %v", e.Code, e.Cause)
	}
	return fmt.Sprintf("[%s]", e.Code)
}

func (e *CodedError) Unwrap() error {
	return e.Cause
}

// NewCoded 创建带错误码的哨兵错误，常用于各包 errors.go。
func NewCoded(code, msg string) error {
	return &CodedError{Code: code, Cause: errors.New(msg)}
}

// WithCode 用错误码包装错误。
func WithCode(err error, code string) error {
	if err == nil {
		return nil
	}
	return &CodedError{Code: code, Cause: err}
}

// GetCode 从错误链中提取最外层的错误码。
func GetCode(err error) string {
	var coded *CodedError
	if errors.As(err, &coded) {
		return coded.Code
	}
	return ""
}

// HasCode 判断错误链中是否存在指定错误码。
func HasCode(err error, code string) bool {
	for err != nil {
		var coded *CodedError
		if !errors.As(err, &coded) {
			return false
		}
		if coded.Code == code {
			return true
		}
		err = coded.Cause
	}
	return false
}

// Collector 收集多个错误，Err 返回合并后的结果。
type Collector struct {
	errs []error
}

func (c *Collector) Collect(err error) {
	if err != nil {
		c.errs = append(c.errs, err)
	}
}

func (c *Collector) Err() error {
	return Combine(c.errs...)
}

// MultiError 合并多个错误。
type MultiError struct {
	Errors []error
}

func (m *MultiError) Error() string {
	if len(m.Errors) == 0 {
		return "no errors"
	}
	if len(m.Errors) == 1 {
		return m.Errors[0].Error()
	}
	return fmt.Sprintf("%v (and %d more errors)", m.Errors[0], len(m.Errors)-1)
}

func (m *MultiError) Unwrap() []error {
	return m.Errors
}

// Combine 将多个错误合并为一个。
func Combine(errs ...error) error {
	var nonNil []error
	for _, err := range errs {
		if err != nil {
			nonNil = append(nonNil, err)
		}
	}
	switch len(nonNil) {
	case 0:
		return nil
	case 1:
		return nonNil[0]
	default:
		return &MultiError{Errors: nonNil}
	}
}

// 标准库函数再导出
var (
	New    = errors.New
	Is     = errors.Is
	As     = errors.As
	Unwrap = errors.Unwrap
	Join   = errors.Join
)
