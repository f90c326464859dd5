package linker

import (
	"github.com/tangzhangming/solar/internal/container"
	rt "github.com/tangzhangming/solar/internal/runtime"
)

// ============================================================================
// 运行时专用访问标志
// ============================================================================

// 容器格式之外、由链接器自己维护的标志位
const (
	// AccClassIsProxy 运行时合成的代理类
	AccClassIsProxy uint32 = 0x0004_0000

	// AccPreverified 校验可跳过（类或方法粒度）
	AccPreverified uint32 = 0x0008_0000

	// AccMiranda 合成的抽象占位方法
	AccMiranda uint32 = 0x0020_0000

	// AccDefault 带方法体的接口方法
	AccDefault uint32 = 0x0040_0000

	// AccDefaultConflict 默认方法冲突哨兵；解析或分派到它时报类变更错误
	AccDefaultConflict uint32 = 0x0100_0000
)

// ============================================================================
// 调用种类
// ============================================================================

// InvokeKind 方法调用种类
type InvokeKind int

const (
	InvokeDirect InvokeKind = iota
	InvokeStatic
	InvokeVirtual
	InvokeInterface
	InvokeSuper
)

func (k InvokeKind) String() string {
	switch k {
	case InvokeDirect:
		return "direct"
	case InvokeStatic:
		return "static"
	case InvokeVirtual:
		return "virtual"
	case InvokeInterface:
		return "interface"
	case InvokeSuper:
		return "super"
	default:
		return "unknown"
	}
}

// ============================================================================
// 方法描述结构
// ============================================================================

// ArtMethod 一个已加载方法
//
// 存储在声明类所属加载器的线性分配器里，从不单独释放。
// declaringClass 在临时类退役窗口内被改写，窗口受类监视器保护。
type ArtMethod struct {
	declaringClass *Class
	accessFlags    uint32
	dexMethodIndex uint32 // 容器方法表索引
	methodIndex    uint16 // 虚表索引（接口方法为声明序）

	name      string
	signature string
	shorty    string

	codeItem   *container.CodeItem
	entrypoint rt.Entrypoint
}

// DeclaringClass 声明类
func (m *ArtMethod) DeclaringClass() *Class { return m.declaringClass }

// SetDeclaringClass 退役窗口内更新回指针
func (m *ArtMethod) SetDeclaringClass(c *Class) { m.declaringClass = c }

// AccessFlags 访问标志
func (m *ArtMethod) AccessFlags() uint32 { return m.accessFlags }

// SetAccessFlags 更新访问标志（链接期，类监视器保护）
func (m *ArtMethod) SetAccessFlags(flags uint32) { m.accessFlags = flags }

// DexMethodIndex 容器方法表索引
func (m *ArtMethod) DexMethodIndex() uint32 { return m.dexMethodIndex }

// MethodIndex 虚表索引
func (m *ArtMethod) MethodIndex() uint16 { return m.methodIndex }

// SetMethodIndex 设置虚表索引
func (m *ArtMethod) SetMethodIndex(idx uint16) { m.methodIndex = idx }

// Name 方法名
func (m *ArtMethod) Name() string { return m.name }

// Signature 方法签名，形如 "(I)V"
func (m *ArtMethod) Signature() string { return m.signature }

// Shorty 短签名
func (m *ArtMethod) Shorty() string { return m.shorty }

// CodeItem 方法体；抽象和 native 方法为 nil
func (m *ArtMethod) CodeItem() *container.CodeItem { return m.codeItem }

// Entrypoint 当前快速入口点
func (m *ArtMethod) Entrypoint() rt.Entrypoint { return m.entrypoint }

// SetEntrypoint 更新快速入口点
func (m *ArtMethod) SetEntrypoint(ep rt.Entrypoint) { m.entrypoint = ep }

// ============================================================================
// 标志谓词
// ============================================================================

func (m *ArtMethod) IsPublic() bool    { return m.accessFlags&container.AccPublic != 0 }
func (m *ArtMethod) IsPrivate() bool   { return m.accessFlags&container.AccPrivate != 0 }
func (m *ArtMethod) IsStatic() bool    { return m.accessFlags&container.AccStatic != 0 }
func (m *ArtMethod) IsFinal() bool     { return m.accessFlags&container.AccFinal != 0 }
func (m *ArtMethod) IsNative() bool    { return m.accessFlags&container.AccNative != 0 }
func (m *ArtMethod) IsAbstract() bool  { return m.accessFlags&container.AccAbstract != 0 }
func (m *ArtMethod) IsSynthetic() bool { return m.accessFlags&container.AccSynthetic != 0 }
func (m *ArtMethod) IsMiranda() bool   { return m.accessFlags&AccMiranda != 0 }
func (m *ArtMethod) IsDefault() bool   { return m.accessFlags&AccDefault != 0 }

// IsDefaultConflicting 默认方法冲突哨兵
func (m *ArtMethod) IsDefaultConflicting() bool {
	return m.accessFlags&AccDefaultConflict != 0
}
func (m *ArtMethod) IsPreverified() bool {
	return m.accessFlags&AccPreverified != 0
}

// IsConstructor 构造器（含 <clinit>）
func (m *ArtMethod) IsConstructor() bool {
	return m.accessFlags&container.AccConstructor != 0
}

// IsClassInitializer 静态初始化器
func (m *ArtMethod) IsClassInitializer() bool {
	return m.IsConstructor() && m.IsStatic()
}

// IsDirect 直接方法：私有、静态或构造器
func (m *ArtMethod) IsDirect() bool {
	return m.accessFlags&(container.AccStatic|container.AccPrivate|container.AccConstructor) != 0
}

// IsProxyMethod 声明类是代理类
func (m *ArtMethod) IsProxyMethod() bool {
	return m.declaringClass != nil && m.declaringClass.IsProxyClass()
}

// IsRuntimeMethod 运行时占位方法（IMT 冲突/未实现/解析哨兵）
func (m *ArtMethod) IsRuntimeMethod() bool {
	return m.declaringClass == nil
}

// IsOverridableByDefaultMethod 该槽位可被更合适的默认方法取代
func (m *ArtMethod) IsOverridableByDefaultMethod() bool {
	return m.IsDefault() || m.IsMiranda() || m.IsDefaultConflicting()
}

// ============================================================================
// 比较与调用种类检查
// ============================================================================

// HasSameNameAndSignature 名字与签名都相同
func (m *ArtMethod) HasSameNameAndSignature(other *ArtMethod) bool {
	return m.name == other.name && m.signature == other.signature
}

// InvokeType 方法本身的调用种类
func (m *ArtMethod) InvokeType() InvokeKind {
	switch {
	case m.IsStatic():
		return InvokeStatic
	case m.declaringClass != nil && m.declaringClass.IsInterface():
		return InvokeInterface
	case m.IsDirect():
		return InvokeDirect
	default:
		return InvokeVirtual
	}
}

// CheckIncompatibleClassChange 以 kind 调用本方法是否构成类变更错误
func (m *ArtMethod) CheckIncompatibleClassChange(kind InvokeKind) bool {
	switch kind {
	case InvokeStatic:
		return !m.IsStatic()
	case InvokeDirect:
		return !m.IsDirect()
	case InvokeVirtual, InvokeSuper:
		// 代理方法永远走 virtual；接口声明的方法不允许 virtual 调用
		if m.IsProxyMethod() {
			return false
		}
		return m.IsStatic() || (m.declaringClass != nil && m.declaringClass.IsInterface())
	case InvokeInterface:
		if m.IsProxyMethod() {
			return false
		}
		// 根对象类的方法允许通过接口调用
		return m.IsStatic() ||
			(m.declaringClass != nil && !m.declaringClass.IsInterface() && !m.declaringClass.IsObjectClass())
	default:
		return true
	}
}

// copyFrom 从原型整体复制（米兰达合成与代理方法使用）
func (m *ArtMethod) copyFrom(src *ArtMethod) {
	*m = *src
}
