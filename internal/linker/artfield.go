package linker

import (
	"github.com/tangzhangming/solar/internal/container"
)

// ============================================================================
// 字段描述结构
// ============================================================================

// ArtField 一个已加载字段
//
// 与 ArtMethod 一样存储在线性分配器里；offset 由字段布局阶段赋值。
type ArtField struct {
	declaringClass *Class
	accessFlags    uint32
	dexFieldIndex  uint32 // 容器字段表索引
	offset         uint32 // 实例内（或类静态区内）字节偏移

	name           string
	typeDescriptor string

	// slotIndex 静态字段在类静态槽数组里的下标；实例字段为 -1
	slotIndex int32
}

// DeclaringClass 声明类
func (f *ArtField) DeclaringClass() *Class { return f.declaringClass }

// SetDeclaringClass 退役窗口内更新回指针
func (f *ArtField) SetDeclaringClass(c *Class) { f.declaringClass = c }

// AccessFlags 访问标志
func (f *ArtField) AccessFlags() uint32 { return f.accessFlags }

// DexFieldIndex 容器字段表索引
func (f *ArtField) DexFieldIndex() uint32 { return f.dexFieldIndex }

// Offset 字节偏移
func (f *ArtField) Offset() uint32 { return f.offset }

// SetOffset 字段布局阶段赋值
func (f *ArtField) SetOffset(off uint32) { f.offset = off }

// Name 字段名
func (f *ArtField) Name() string { return f.name }

// TypeDescriptor 字段类型描述符
func (f *ArtField) TypeDescriptor() string { return f.typeDescriptor }

// SlotIndex 静态槽下标
func (f *ArtField) SlotIndex() int32 { return f.slotIndex }

func (f *ArtField) IsPublic() bool   { return f.accessFlags&container.AccPublic != 0 }
func (f *ArtField) IsPrivate() bool  { return f.accessFlags&container.AccPrivate != 0 }
func (f *ArtField) IsStatic() bool   { return f.accessFlags&container.AccStatic != 0 }
func (f *ArtField) IsFinal() bool    { return f.accessFlags&container.AccFinal != 0 }
func (f *ArtField) IsVolatile() bool { return f.accessFlags&container.AccVolatile != 0 }

// TypeAsPrimitive 字段类型的原始类型种类（引用为 PrimNot）
func (f *ArtField) TypeAsPrimitive() container.PrimitiveType {
	if len(f.typeDescriptor) == 1 {
		if p, ok := container.PrimitiveForChar(f.typeDescriptor[0]); ok {
			return p
		}
	}
	return container.PrimNot
}

// IsPrimitiveType 是否为原始类型字段
func (f *ArtField) IsPrimitiveType() bool {
	return f.TypeAsPrimitive() != container.PrimNot
}

// FieldSize 存储宽度
func (f *ArtField) FieldSize() uint32 {
	if !f.IsPrimitiveType() {
		return kHeapReferenceSize
	}
	return uint32(f.TypeAsPrimitive().ComponentSize())
}
