// Package xerrors 提供标准化错误处理工具。
//
// filelock 的所有组件都通过本包创建哨兵错误、包装上下文并附加机器可读的错误码，
// 调用方统一使用 errors.Is / errors.As 判断错误类别。
package xerrors

import (
	"errors"
	"fmt"
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

// WithCode 用错误码包装错误。
func WithCode(err error, code string) error {
	if err == nil {
		return nil
	}
	return &CodedError{Code: code, Cause: err}
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

// GetCode 从错误链中提取错误码。
func GetCode(err error) string {
	var coded *CodedError
	if errors.As(err, &coded) {
		return coded.Code
	}
	return ""
}

// Code 哨兵错误与错误码的对应关系
type Code struct {
	Err  error
	Code string
}

// CodeOf 按 table 的顺序匹配哨兵错误并返回第一个命中的错误码。
//
// 错误链中已经带有 CodedError 时优先使用其错误码；都不匹配时返回 fallback。
// 一个错误同时命中多个哨兵时（例如 Combine 的结果），排在前面的优先。
//
// 示例：
//
//	code := xerrors.CodeOf(err, "io", []xerrors.Code{{ErrTimeout, "timeout"}})
func CodeOf(err error, fallback string, table []Code) string {
	if err == nil {
		return ""
	}
	if code := GetCode(err); code != "" {
		return code
	}
	for _, c := range table {
		if errors.Is(err, c.Err) {
			return c.Code
		}
	}
	return fallback
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
