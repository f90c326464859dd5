package runtime

import "fmt"

// ============================================================================
// 静态槽位值
// ============================================================================

// ValueType 值类型
type ValueType byte

const (
	ValNull ValueType = iota
	ValBool
	ValInt    // 所有整型宽度统一存为 int64
	ValFloat  // float/double 统一存为 float64
	ValString // 驻留字符串
	ValRef    // 托管对象引用（类、数组等，按身份比较）
)

// Value 静态字段槽位的运行时值
//
// 类的静态存储区按槽位保存这些值；引用槽位以 interface{} 持有
// 任意托管对象，GC 根扫描通过类可达它们。
type Value struct {
	Type ValueType
	Data interface{}
}

// 预定义常量值
var (
	NullValue  = Value{Type: ValNull}
	TrueValue  = Value{Type: ValBool, Data: true}
	FalseValue = Value{Type: ValBool, Data: false}
)

// NewBool 创建布尔值
func NewBool(b bool) Value {
	if b {
		return TrueValue
	}
	return FalseValue
}

// NewInt 创建整数值
func NewInt(n int64) Value {
	return Value{Type: ValInt, Data: n}
}

// NewFloat 创建浮点数值
func NewFloat(f float64) Value {
	return Value{Type: ValFloat, Data: f}
}

// NewString 创建字符串值
func NewString(s string) Value {
	return Value{Type: ValString, Data: s}
}

// NewRef 创建引用值
func NewRef(obj interface{}) Value {
	if obj == nil {
		return NullValue
	}
	return Value{Type: ValRef, Data: obj}
}

// IsNull 是否为 null
func (v Value) IsNull() bool { return v.Type == ValNull }

// AsBool 取布尔值
func (v Value) AsBool() bool { b, _ := v.Data.(bool); return b }

// AsInt 取整数值
func (v Value) AsInt() int64 { n, _ := v.Data.(int64); return n }

// AsFloat 取浮点数值
func (v Value) AsFloat() float64 { f, _ := v.Data.(float64); return f }

// AsString 取字符串值
func (v Value) AsString() string { s, _ := v.Data.(string); return s }

// AsRef 取引用值
func (v Value) AsRef() interface{} {
	if v.Type != ValRef {
		return nil
	}
	return v.Data
}

func (v Value) String() string {
	switch v.Type {
	case ValNull:
		return "null"
	case ValBool:
		return fmt.Sprintf("%v", v.AsBool())
	case ValInt:
		return fmt.Sprintf("%d", v.AsInt())
	case ValFloat:
		return fmt.Sprintf("%g", v.AsFloat())
	case ValString:
		return fmt.Sprintf("%q", v.AsString())
	case ValRef:
		return fmt.Sprintf("ref@%p", v.Data)
	default:
		return "invalid"
	}
}
