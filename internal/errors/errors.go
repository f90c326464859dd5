package errors

import (
	"errors"
	"fmt"

	pkgerrors "github.com/pkg/errors"
)

// ============================================================================
// 链接错误类型
// ============================================================================

// Error 链接器错误
//
// Msg 是面向日志的英文消息；Cause 保留原始失败，形成因果链。
// 一个类进入错误态后会存储它的 Error，后续每次访问都重放同一个值。
type Error struct {
	Kind  Kind   // 错误种类
	Code  string // L 开头的错误码
	Msg   string // 描述消息
	Cause error  // 原始失败（可为 nil）
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s[%s]: %s: %v", e.Kind, e.Code, e.Msg, e.Cause)
	}
	return fmt.Sprintf("%s[%s]: %s", e.Kind, e.Code, e.Msg)
}

// Unwrap 暴露因果链，配合标准库 errors.Is/As 使用
func (e *Error) Unwrap() error { return e.Cause }

// ============================================================================
// 构造函数
// ============================================================================

// Newf 构造指定种类的错误
func Newf(k Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: k, Code: codeOf(k), Msg: fmt.Sprintf(format, args...)}
}

// Wrapf 构造指定种类的错误并保留原始失败
func Wrapf(k Kind, cause error, format string, args ...interface{}) *Error {
	return &Error{Kind: k, Code: codeOf(k), Msg: fmt.Sprintf(format, args...), Cause: cause}
}

// ============================================================================
// 检查辅助
// ============================================================================

// KindOf 取出错误的种类；非链接器错误返回 KindUnknown
func KindOf(err error) Kind {
	var le *Error
	if errors.As(err, &le) {
		return le.Kind
	}
	return KindUnknown
}

// IsKind 判断错误（或其因果链上的错误）是否属于指定种类
func IsKind(err error, k Kind) bool {
	for e := err; e != nil; e = errors.Unwrap(e) {
		if le, ok := e.(*Error); ok && le.Kind == k {
			return true
		}
	}
	return false
}

// RootCause 沿因果链取最底层的失败
//
// 同时理解 pkg/errors 的 causer 链和本包的 Cause 字段。
func RootCause(err error) error {
	return pkgerrors.Cause(unwrapAll(err))
}

func unwrapAll(err error) error {
	for {
		next := errors.Unwrap(err)
		if next == nil {
			return err
		}
		err = next
	}
}
