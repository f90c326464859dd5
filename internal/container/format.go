// Package container 实现多类字节码容器的内存模型。
//
// 容器是一份归档：字符串池、类型表、原型表、方法表、字段表加上若干
// 类定义。链接器只依赖这里暴露的查询接口；磁盘二进制布局由外部的
// 解析器负责，不在本包范围内。
package container

// NoIndex 表示"无索引"（例如没有父类）
const NoIndex = ^uint32(0)

// ============================================================================
// 原始类型
// ============================================================================

// PrimitiveType 原始类型种类
type PrimitiveType int

const (
	PrimNot PrimitiveType = iota // 引用类型
	PrimBoolean
	PrimByte
	PrimChar
	PrimShort
	PrimInt
	PrimLong
	PrimFloat
	PrimDouble
	PrimVoid
)

// PrimitiveForChar 从描述符首字符识别原始类型
func PrimitiveForChar(c byte) (PrimitiveType, bool) {
	switch c {
	case 'Z':
		return PrimBoolean, true
	case 'B':
		return PrimByte, true
	case 'C':
		return PrimChar, true
	case 'S':
		return PrimShort, true
	case 'I':
		return PrimInt, true
	case 'J':
		return PrimLong, true
	case 'F':
		return PrimFloat, true
	case 'D':
		return PrimDouble, true
	case 'V':
		return PrimVoid, true
	}
	return PrimNot, false
}

// Descriptor 原始类型的描述符
func (p PrimitiveType) Descriptor() string {
	switch p {
	case PrimBoolean:
		return "Z"
	case PrimByte:
		return "B"
	case PrimChar:
		return "C"
	case PrimShort:
		return "S"
	case PrimInt:
		return "I"
	case PrimLong:
		return "J"
	case PrimFloat:
		return "F"
	case PrimDouble:
		return "D"
	case PrimVoid:
		return "V"
	default:
		return ""
	}
}

// ComponentSize 该类型一个实例字段占用的字节数
func (p PrimitiveType) ComponentSize() int {
	switch p {
	case PrimBoolean, PrimByte:
		return 1
	case PrimChar, PrimShort:
		return 2
	case PrimInt, PrimFloat:
		return 4
	case PrimLong, PrimDouble:
		return 8
	case PrimVoid:
		return 0
	default:
		return 8 // 引用按指针宽度
	}
}

// FieldSizeForDescriptor 字段描述符对应的存储宽度
func FieldSizeForDescriptor(desc string) int {
	if desc == "" {
		return 8
	}
	if p, ok := PrimitiveForChar(desc[0]); ok && len(desc) == 1 {
		return p.ComponentSize()
	}
	return 8
}

// ============================================================================
// 索引表条目
// ============================================================================

// TypeID 类型表条目
type TypeID struct {
	DescriptorIdx uint32 // 指向字符串池
}

// ProtoID 方法原型
type ProtoID struct {
	Shorty        string   // 短签名（返回值在前）
	ReturnTypeIdx uint32   // 返回类型
	ParamTypeIdxs []uint32 // 参数类型
}

// MethodID 方法表条目
type MethodID struct {
	ClassIdx uint32 // 声明类（类型表索引）
	ProtoIdx uint32 // 原型表索引
	NameIdx  uint32 // 名字（字符串池索引）
}

// FieldID 字段表条目
type FieldID struct {
	ClassIdx uint32 // 声明类
	TypeIdx  uint32 // 字段类型
	NameIdx  uint32 // 名字
}

// ============================================================================
// 类定义
// ============================================================================

// EncodedField 类数据里的字段声明
type EncodedField struct {
	FieldIdx    uint32 // 字段表索引
	AccessFlags uint32
}

// EncodedMethod 类数据里的方法声明
type EncodedMethod struct {
	MethodIdx   uint32 // 方法表索引
	AccessFlags uint32
	Code        *CodeItem // 无方法体时为 nil
}

// CodeItem 方法体
type CodeItem struct {
	RegistersSize uint16
	Insns         []byte // 指令流（链接器不解释内容）
	Tries         []TryItem
}

// TryItem try/catch 块
type TryItem struct {
	StartAddr       uint32
	InsnCount       uint16
	HandlerTypeIdxs []uint32 // 捕获的异常类型；校验后由链接器解析
}

// ClassDef 一个类的定义
//
// 字段在前、直接方法在虚方法前、各自索引单调递增；
// 重复条目被容忍但加载时忽略。
type ClassDef struct {
	ClassIdx      uint32   // 本类的类型表索引
	AccessFlags   uint32
	SuperclassIdx uint32   // NoIndex 表示没有父类
	InterfaceIdxs []uint32 // 直接实现的接口
	SourceFile    string

	StaticFields   []EncodedField
	InstanceFields []EncodedField
	DirectMethods  []EncodedMethod
	VirtualMethods []EncodedMethod

	// StaticValues 静态字段常量初始值，与 StaticFields 前缀一一对应
	StaticValues []EncodedValue
}

// ============================================================================
// 编码的常量值
// ============================================================================

// EncodedValueKind 常量值种类
type EncodedValueKind int

const (
	EncodedNull EncodedValueKind = iota
	EncodedBool
	EncodedInt    // 各整型宽度统一
	EncodedFloat  // float/double 统一
	EncodedString // 字符串池索引
	EncodedType   // 类型表索引
)

// EncodedValue 静态字段的常量初始值
type EncodedValue struct {
	Kind      EncodedValueKind
	Bool      bool
	Int       int64
	Float     float64
	StringIdx uint32
	TypeIdx   uint32
}
