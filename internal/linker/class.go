package linker

import (
	"go.uber.org/atomic"

	"github.com/tangzhangming/solar/internal/container"
	rt "github.com/tangzhangming/solar/internal/runtime"
)

// ============================================================================
// 类状态机
// ============================================================================

// Status 类的链接状态
//
// 成功路径单调递增；Error 与 Retired 除 Initialized 外从任何状态吸收。
type Status int32

const (
	StatusRetired Status = -2 // 临时类被正确尺寸的终态类替换
	StatusError   Status = -1 // 任一阶段失败
	StatusNotReady Status = iota - 2
	StatusIdx                            // 定义完成，父类/接口尚未加载
	StatusLoaded                         // 父类与接口已加载
	StatusResolving                      // 链接进行中（终态类短暂可见）
	StatusResolved                       // 方法与字段链接完毕
	StatusVerifying                      // 校验进行中
	StatusRetryVerificationAtRuntime     // 编译期软失败，运行期重试
	StatusVerifyingAtRuntime             // 运行期重试校验进行中
	StatusVerified                       // 校验通过
	StatusInitializing                   // <clinit> 运行中
	StatusInitialized                    // 终态
)

func (s Status) String() string {
	switch s {
	case StatusRetired:
		return "Retired"
	case StatusError:
		return "Error"
	case StatusNotReady:
		return "NotReady"
	case StatusIdx:
		return "Idx"
	case StatusLoaded:
		return "Loaded"
	case StatusResolving:
		return "Resolving"
	case StatusResolved:
		return "Resolved"
	case StatusVerifying:
		return "Verifying"
	case StatusRetryVerificationAtRuntime:
		return "RetryVerificationAtRuntime"
	case StatusVerifyingAtRuntime:
		return "VerifyingAtRuntime"
	case StatusVerified:
		return "Verified"
	case StatusInitializing:
		return "Initializing"
	case StatusInitialized:
		return "Initialized"
	default:
		return "Unknown"
	}
}

// ============================================================================
// 类标志
// ============================================================================

// 类角色标志位；类的多态角色用标志集合而非类型层级表达
const (
	ClassFlagNormal            uint32 = 0
	ClassFlagNoReferenceFields uint32 = 1 << 0 // 实例没有需要扫描的引用字段
	ClassFlagString            uint32 = 1 << 1
	ClassFlagObjectArray       uint32 = 1 << 2
	ClassFlagClass             uint32 = 1 << 3 // 类对象自身的类
	ClassFlagClassLoader       uint32 = 1 << 4
	ClassFlagSoftReference     uint32 = 1 << 5
	ClassFlagWeakReference     uint32 = 1 << 6
	ClassFlagFinalizerReference uint32 = 1 << 7
	ClassFlagPhantomReference  uint32 = 1 << 8
	ClassFlagFinalizable       uint32 = 1 << 9
	ClassFlagProxy             uint32 = 1 << 10
	ClassFlagHasDefaultMethods uint32 = 1 << 11

	// ClassFlagReference 任一引用种类
	ClassFlagReference = ClassFlagSoftReference | ClassFlagWeakReference |
		ClassFlagFinalizerReference | ClassFlagPhantomReference
)

// kVisitReferencesWalkSuper 引用位图溢出哨兵：扫描时退回逐级遍历父类
const kVisitReferencesWalkSuper = ^uint32(0)

// ============================================================================
// 接口表
// ============================================================================

// IfTableEntry 接口表条目
type IfTableEntry struct {
	Iface   *Class
	Methods []*ArtMethod // 与接口虚方法一一对应；懒填充
}

// IfTable 接口分派表
//
// 次序不变量：任意 I 扩展 J，则 J 的条目先于 I 出现。
type IfTable struct {
	entries []IfTableEntry
}

// Count 条目数
func (t *IfTable) Count() int {
	if t == nil {
		return 0
	}
	return len(t.entries)
}

// Interface 第 i 个接口
func (t *IfTable) Interface(i int) *Class { return t.entries[i].Iface }

// SetInterface 填充第 i 个接口
func (t *IfTable) SetInterface(i int, c *Class) { t.entries[i].Iface = c }

// MethodArray 第 i 个接口的方法数组
func (t *IfTable) MethodArray(i int) []*ArtMethod { return t.entries[i].Methods }

// SetMethodArray 填充第 i 个接口的方法数组
func (t *IfTable) SetMethodArray(i int, ms []*ArtMethod) { t.entries[i].Methods = ms }

// newIfTable 分配 n 个空条目的接口表
func newIfTable(n int) *IfTable {
	return &IfTable{entries: make([]IfTableEntry, n)}
}

// shrink 截断到 n 个条目
func (t *IfTable) shrink(n int) {
	t.entries = t.entries[:n]
}

// ============================================================================
// 类
// ============================================================================

// Class 一个已加载的类型
//
// 由加载器或合成路径创建；仅在非终态时由持有类监视器的线程修改，
// 进入 Initialized、Error 或 Retired 后不再变化。
type Class struct {
	monitor *monitor
	status  atomic.Int32

	// clinitThreadID 把类置入 Initializing（或定义中）的线程
	clinitThreadID atomic.Int64

	objClass   *Class // 类对象自身的类型（根类自引用）
	descriptor string
	name       string // 代理类的点分名字；其余为空

	accessFlags uint32
	classFlags  uint32

	super         *Class
	componentType *Class // 数组类的元素类型
	primitiveKind container.PrimitiveType

	loader      *ClassLoader // nil 表示引导加载器
	dexCache    *DexCache
	file        *container.File
	classDefIdx int32 // -1 表示没有容器定义

	directInterfaces []*Class

	ifields        []ArtField
	sfields        []ArtField
	directMethods  []ArtMethod
	virtualMethods []ArtMethod

	vtable  []*ArtMethod
	ifTable *IfTable
	imt     []*ArtMethod // 长度 kIMTSize；非可实例化类为 nil

	objectSize uint32 // 实例大小；变长类型为 0
	classSize  uint32 // 类对象大小（含嵌入表与静态区）

	numReferenceInstanceFields uint32
	numReferenceStaticFields   uint32
	referenceInstanceOffsets   uint32 // 前导引用槽位图

	// staticSlots 静态字段存储；下标与 sfields 对应
	staticSlots []rt.Value

	// verifyError 进入错误态时存储的失败；此后每次访问重放
	verifyError error

	// recursivelyInitialized 默认接口递归初始化已covered的性能标记；
	// 不是初始化状态本身，不得与 Status 混同
	recursivelyInitialized bool

	// proxy 合成数据
	proxyInterfaces []*Class
	proxyThrows     [][]*Class
}

// newClass 分配一个空白类
func newClass(descriptor string, classSize uint32) *Class {
	c := &Class{
		monitor:     newMonitor(),
		descriptor:  descriptor,
		classDefIdx: -1,
		classSize:   classSize,
	}
	c.status.Store(int32(StatusNotReady))
	return c
}

// ============================================================================
// 基本访问器
// ============================================================================

// Descriptor 类描述符
func (c *Class) Descriptor() string { return c.descriptor }

// PrettyName 可读名字
func (c *Class) PrettyName() string { return PrettyDescriptor(c.descriptor) }

// GetClass 类对象自身的类型
func (c *Class) GetClass() *Class { return c.objClass }

// Status 当前状态
func (c *Class) Status() Status { return Status(c.status.Load()) }

// SetStatus 推进状态并唤醒等待方
//
// 可能有等待方的迁移必须在持有类监视器时调用；
// 状态字先行写入，唤醒不依赖持有互斥量。
func (c *Class) SetStatus(s Status) {
	c.status.Store(int32(s))
	c.monitor.NotifyAll()
}

// SetErrorStatus 进入错误态并存储失败原因
func (c *Class) SetErrorStatus(err error) {
	if c.verifyError == nil {
		c.verifyError = err
	}
	c.SetStatus(StatusError)
}

// StoredError 错误态存储的失败
func (c *Class) StoredError() error { return c.verifyError }

// ClinitThreadID 持有初始化的线程
func (c *Class) ClinitThreadID() int64 { return c.clinitThreadID.Load() }

// SetClinitThreadID 记录持有初始化的线程
func (c *Class) SetClinitThreadID(tid int64) { c.clinitThreadID.Store(tid) }

// Monitor 类监视器
func (c *Class) Monitor() *monitor { return c.monitor }

// AccessFlags / ClassFlags
func (c *Class) AccessFlags() uint32         { return c.accessFlags }
func (c *Class) SetAccessFlags(flags uint32) { c.accessFlags = flags }
func (c *Class) ClassFlags() uint32          { return c.classFlags }
func (c *Class) SetClassFlags(flags uint32)  { c.classFlags = flags }

// SuperClass 父类；根对象类与原始类型为 nil
func (c *Class) SuperClass() *Class       { return c.super }
func (c *Class) SetSuperClass(s *Class)   { c.super = s }
func (c *Class) HasSuperClass() bool      { return c.super != nil }

// ComponentType 数组元素类型
func (c *Class) ComponentType() *Class     { return c.componentType }
func (c *Class) SetComponentType(t *Class) { c.componentType = t }

// PrimitiveKind 原始类型种类
func (c *Class) PrimitiveKind() container.PrimitiveType { return c.primitiveKind }

// Loader 所属加载器；nil 为引导加载器
func (c *Class) Loader() *ClassLoader { return c.loader }

// DexCache 所属容器的解析缓存
func (c *Class) DexCache() *DexCache { return c.dexCache }

// Container 定义所在容器
func (c *Class) Container() *container.File { return c.file }

// ClassDefIdx 容器内类定义索引
func (c *Class) ClassDefIdx() int32 { return c.classDefIdx }

// ClassDef 容器内类定义
func (c *Class) ClassDef() *container.ClassDef {
	if c.file == nil || c.classDefIdx < 0 {
		return nil
	}
	return c.file.ClassDef(c.classDefIdx)
}

// ObjectSize 实例大小
func (c *Class) ObjectSize() uint32        { return c.objectSize }
func (c *Class) SetObjectSize(size uint32) { c.objectSize = size }

// ClassSize 类对象大小
func (c *Class) ClassSize() uint32 { return c.classSize }

// ReferenceInstanceOffsets 前导引用槽位图
func (c *Class) ReferenceInstanceOffsets() uint32 { return c.referenceInstanceOffsets }

// NumReferenceInstanceFields 实例引用字段数
func (c *Class) NumReferenceInstanceFields() uint32 { return c.numReferenceInstanceFields }

// StaticSlot 静态槽读取
func (c *Class) StaticSlot(i int32) rt.Value {
	if i < 0 || int(i) >= len(c.staticSlots) {
		return rt.NullValue
	}
	return c.staticSlots[i]
}

// SetStaticSlot 静态槽写入
func (c *Class) SetStaticSlot(i int32, v rt.Value) {
	if i >= 0 && int(i) < len(c.staticSlots) {
		c.staticSlots[i] = v
	}
}

// ============================================================================
// 状态谓词
// ============================================================================

func (c *Class) IsErroneous() bool    { return c.Status() == StatusError }
func (c *Class) IsRetired() bool      { return c.Status() == StatusRetired }
func (c *Class) IsIdxLoaded() bool    { return c.Status() >= StatusIdx }
func (c *Class) IsLoaded() bool       { return c.Status() >= StatusLoaded }
func (c *Class) IsResolved() bool     { return c.Status() >= StatusResolved }
func (c *Class) IsVerified() bool     { return c.Status() >= StatusVerified }
func (c *Class) IsInitializing() bool { return c.Status() >= StatusInitializing }
func (c *Class) IsInitialized() bool  { return c.Status() >= StatusInitialized }

// IsCompileTimeVerified 编译期视角下校验已完成（含运行期重试态）
func (c *Class) IsCompileTimeVerified() bool {
	return c.Status() >= StatusRetryVerificationAtRuntime
}

// IsTemp 还是占位的临时类
func (c *Class) IsTemp() bool {
	return c.Status() < StatusResolving && c.ShouldHaveEmbeddedTables()
}

// ============================================================================
// 角色谓词
// ============================================================================

func (c *Class) IsInterface() bool { return c.accessFlags&container.AccInterface != 0 }
func (c *Class) IsPublic() bool    { return c.accessFlags&container.AccPublic != 0 }
func (c *Class) IsFinal() bool     { return c.accessFlags&container.AccFinal != 0 }
func (c *Class) IsAbstract() bool  { return c.accessFlags&container.AccAbstract != 0 }

func (c *Class) IsPrimitive() bool     { return c.primitiveKind != container.PrimNot }
func (c *Class) IsPrimitiveVoid() bool { return c.primitiveKind == container.PrimVoid }
func (c *Class) IsArrayClass() bool    { return c.componentType != nil }
func (c *Class) IsObjectClass() bool   { return !c.IsPrimitive() && c.super == nil && !c.IsArrayClass() }
func (c *Class) IsClassClass() bool    { return c.classFlags&ClassFlagClass != 0 }
func (c *Class) IsStringClass() bool   { return c.classFlags&ClassFlagString != 0 }
func (c *Class) IsProxyClass() bool    { return c.accessFlags&AccClassIsProxy != 0 }
func (c *Class) IsClassLoaderClass() bool {
	return c.classFlags&ClassFlagClassLoader != 0
}
func (c *Class) IsReferenceClass() bool {
	return c.classFlags&ClassFlagReference != 0
}
func (c *Class) IsFinalizable() bool { return c.classFlags&ClassFlagFinalizable != 0 }
func (c *Class) HasDefaultMethods() bool {
	return c.classFlags&ClassFlagHasDefaultMethods != 0
}
func (c *Class) IsPreverified() bool { return c.accessFlags&AccPreverified != 0 }

func (c *Class) SetFinalizable()      { c.classFlags |= ClassFlagFinalizable }
func (c *Class) SetClassLoaderClass() { c.classFlags |= ClassFlagClassLoader }
func (c *Class) SetStringClass()      { c.classFlags |= ClassFlagString }
func (c *Class) SetHasDefaultMethods() {
	c.classFlags |= ClassFlagHasDefaultMethods
}
func (c *Class) SetPreverified() { c.accessFlags |= AccPreverified }

// IsVariableSize 实例大小不定（类对象、字符串、数组）
func (c *Class) IsVariableSize() bool {
	return c.IsClassClass() || c.IsStringClass() || c.IsArrayClass()
}

// IsInstantiable 可以被实例化
func (c *Class) IsInstantiable() bool {
	return (!c.IsPrimitive() && !c.IsInterface() && !c.IsAbstract()) ||
		(c.IsAbstract() && c.IsArrayClass())
}

// ShouldHaveEmbeddedTables 类对象是否嵌入 IMT 与虚表
func (c *Class) ShouldHaveEmbeddedTables() bool {
	return c.IsInstantiable()
}

// ============================================================================
// 成员访问
// ============================================================================

func (c *Class) NumInstanceFields() int { return len(c.ifields) }
func (c *Class) NumStaticFields() int   { return len(c.sfields) }
func (c *Class) NumDirectMethods() int  { return len(c.directMethods) }
func (c *Class) NumVirtualMethods() int { return len(c.virtualMethods) }

// InstanceField 第 i 个实例字段
func (c *Class) InstanceField(i int) *ArtField { return &c.ifields[i] }

// StaticField 第 i 个静态字段
func (c *Class) StaticField(i int) *ArtField { return &c.sfields[i] }

// DirectMethod 第 i 个直接方法
func (c *Class) DirectMethod(i int) *ArtMethod { return &c.directMethods[i] }

// VirtualMethod 第 i 个虚方法
func (c *Class) VirtualMethod(i int) *ArtMethod { return &c.virtualMethods[i] }

// VTable 虚表
func (c *Class) VTable() []*ArtMethod { return c.vtable }

// VTableEntry 虚表槽
func (c *Class) VTableEntry(i int) *ArtMethod { return c.vtable[i] }

// IfTable 接口表
func (c *Class) IfTable() *IfTable { return c.ifTable }

// SetIfTable 安装接口表
func (c *Class) SetIfTable(t *IfTable) { c.ifTable = t }

// IMT 接口方法表
func (c *Class) IMT() []*ArtMethod { return c.imt }

// DirectInterfaces 直接声明的接口
func (c *Class) DirectInterfaces() []*Class { return c.directInterfaces }

// FindClassInitializer 本类的 <clinit>
func (c *Class) FindClassInitializer() *ArtMethod {
	for i := range c.directMethods {
		m := &c.directMethods[i]
		if m.IsClassInitializer() && m.signature == "()V" {
			return m
		}
	}
	return nil
}

// FindDeclaredDirectMethod 按名字与签名找本类直接方法
func (c *Class) FindDeclaredDirectMethod(name, signature string) *ArtMethod {
	for i := range c.directMethods {
		m := &c.directMethods[i]
		if m.name == name && m.signature == signature {
			return m
		}
	}
	return nil
}

// FindDeclaredVirtualMethod 按名字与签名找本类虚方法
func (c *Class) FindDeclaredVirtualMethod(name, signature string) *ArtMethod {
	for i := range c.virtualMethods {
		m := &c.virtualMethods[i]
		if m.name == name && m.signature == signature {
			return m
		}
	}
	return nil
}

// FindDirectMethod 沿继承链找直接方法
func (c *Class) FindDirectMethod(name, signature string) *ArtMethod {
	for k := c; k != nil; k = k.super {
		if m := k.FindDeclaredDirectMethod(name, signature); m != nil {
			return m
		}
	}
	return nil
}

// FindVirtualMethod 沿继承链找虚方法
func (c *Class) FindVirtualMethod(name, signature string) *ArtMethod {
	for k := c; k != nil; k = k.super {
		if m := k.FindDeclaredVirtualMethod(name, signature); m != nil {
			return m
		}
	}
	return nil
}

// FindInterfaceMethod 在本类实现的接口集合里找方法
func (c *Class) FindInterfaceMethod(name, signature string) *ArtMethod {
	// 接口类自身的声明优先
	if m := c.FindDeclaredVirtualMethod(name, signature); m != nil {
		return m
	}
	if m := c.FindDeclaredDirectMethod(name, signature); m != nil {
		return m
	}
	t := c.ifTable
	for i := 0; i < t.Count(); i++ {
		iface := t.Interface(i)
		if m := iface.FindDeclaredVirtualMethod(name, signature); m != nil {
			return m
		}
	}
	return nil
}

// FindDeclaredInstanceField 按名字找本类实例字段
func (c *Class) FindDeclaredInstanceField(name string) *ArtField {
	for i := range c.ifields {
		if c.ifields[i].name == name {
			return &c.ifields[i]
		}
	}
	return nil
}

// FindDeclaredStaticField 按名字找本类静态字段
func (c *Class) FindDeclaredStaticField(name string) *ArtField {
	for i := range c.sfields {
		if c.sfields[i].name == name {
			return &c.sfields[i]
		}
	}
	return nil
}

// findDeclaredFieldByIndex 按容器索引找字段（解析缓存回填用）
func (c *Class) findDeclaredFieldByIndex(cache *DexCache, fieldIdx uint32, isStatic bool) *ArtField {
	if c.dexCache != cache {
		return nil
	}
	fields := c.ifields
	if isStatic {
		fields = c.sfields
	}
	for i := range fields {
		if fields[i].dexFieldIndex == fieldIdx {
			return &fields[i]
		}
	}
	return nil
}

// FindInstanceField 沿继承链按名字找实例字段
func (c *Class) FindInstanceField(name string) *ArtField {
	for k := c; k != nil; k = k.super {
		if f := k.FindDeclaredInstanceField(name); f != nil {
			return f
		}
	}
	return nil
}

// FindStaticField 找静态字段：本类、接口集合、再沿父类
func (c *Class) FindStaticField(name string) *ArtField {
	for k := c; k != nil; k = k.super {
		if f := k.FindDeclaredStaticField(name); f != nil {
			return f
		}
		t := k.ifTable
		for i := 0; i < t.Count(); i++ {
			if f := t.Interface(i).FindDeclaredStaticField(name); f != nil {
				return f
			}
		}
	}
	return nil
}

// ============================================================================
// 类型关系与访问检查
// ============================================================================

// IsSubClass 是否为 target 的子类（含自身）
func (c *Class) IsSubClass(target *Class) bool {
	for k := c; k != nil; k = k.super {
		if k == target {
			return true
		}
	}
	return false
}

// Implements 是否实现接口 iface
func (c *Class) Implements(iface *Class) bool {
	t := c.ifTable
	for i := 0; i < t.Count(); i++ {
		if t.Interface(i) == iface {
			return true
		}
	}
	return false
}

// IsAssignableFrom c 类型的变量能否持有 src 的实例
func (c *Class) IsAssignableFrom(src *Class) bool {
	switch {
	case c == src:
		return true
	case c.IsInterface():
		return src.Implements(c)
	case c.IsArrayClass():
		return src.IsArrayClass() &&
			c.componentType.IsAssignableFrom(src.componentType)
	default:
		return src.IsSubClass(c)
	}
}

// samePackage 两个类是否处于同一运行时包（同包名且同加载器）
func (c *Class) samePackage(other *Class) bool {
	return c.loader == other.loader &&
		descriptorPackage(c.descriptor) == descriptorPackage(other.descriptor)
}

// CanAccess 能否访问类 other
func (c *Class) CanAccess(other *Class) bool {
	return other.IsPublic() || c.samePackage(other)
}

// CanAccessMember 能否访问 declaring 中带 flags 的成员
func (c *Class) CanAccessMember(declaring *Class, memberFlags uint32) bool {
	switch {
	case memberFlags&container.AccPublic != 0:
		return true
	case memberFlags&container.AccPrivate != 0:
		return c == declaring
	case memberFlags&container.AccProtected != 0:
		return c.IsSubClass(declaring) || c.samePackage(declaring)
	default:
		return c.samePackage(declaring)
	}
}
