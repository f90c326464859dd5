package linker

import (
	"github.com/tangzhangming/solar/internal/container"
	lerr "github.com/tangzhangming/solar/internal/errors"
	rt "github.com/tangzhangming/solar/internal/runtime"
)

// ============================================================================
// 代理类合成
// ============================================================================

// 代理构造器在父类上的签名
const proxyConstructorSignature = "(Ljava/lang/reflect/InvocationHandler;)V"

// CreateProxyClass 从名字、接口列表与方法原型合成代理类
//
// 产出的类以固定的代理父类为超类，直接方法只有一个从父类拷来的
// 构造器，虚方法是原型的克隆（入口点换成代理调用处理器）。
// 两个静态字段按固定次序合成：槽 0 放接口列表，槽 1 放 throws 矩阵。
// 走正常链接管线，临时类在类表中被终态类替换。
func (l *Linker) CreateProxyClass(self *rt.Thread, name string, interfaces []*Class, loader *ClassLoader, prototypes []*ArtMethod, throws [][]*Class) (*Class, error) {
	proxyRoot := l.classRoots[kJavaLangReflectProxy]
	if proxyRoot == nil {
		return nil, lerr.Newf(lerr.KindInternal, "proxy root not bootstrapped")
	}
	descriptor := DotToDescriptor(name)
	hash := ComputeModifiedUtf8Hash(descriptor)

	klass := newClass(descriptor, computeClassSize(false, 0, 2, 0, 0, 0, 0))
	klass.objClass = l.classRoots[kJavaLangClass]
	klass.name = name
	klass.SetObjectSize(proxyRoot.objectSize)
	// 预校验标志一起打上，免得再去碰方法上的标志
	klass.SetAccessFlags(AccClassIsProxy | container.AccPublic | container.AccFinal | AccPreverified)
	klass.classFlags |= ClassFlagProxy
	klass.loader = loader
	klass.dexCache = proxyRoot.dexCache
	klass.proxyInterfaces = interfaces
	klass.proxyThrows = throws
	klass.SetStatus(StatusIdx)

	alloc := l.allocatorForLoader(loader)

	m := klass.monitor
	m.Lock(self)
	defer m.Unlock(self)
	klass.SetClinitThreadID(self.ID())

	// 先发布再填成员：字段根只从类表可达，期间不得有挂起点
	if existing := l.InsertClass(descriptor, klass, hash); existing != nil {
		return nil, lerr.Newf(lerr.KindInternal, "proxy class %s already present", name)
	}

	self.StartAssertNoThreadSuspension()

	// 实例字段全部继承；合成两个静态字段。
	// 槽 0 记录声明的接口列表，反射拿到的是声明集而不是展平集。
	sfields := alloc.AllocFieldArray(2)
	sfields[0] = ArtField{
		declaringClass: klass,
		accessFlags:    container.AccStatic | container.AccPublic | container.AccFinal,
		dexFieldIndex:  0,
		name:           "interfaces",
		typeDescriptor: "[Ljava/lang/Class;",
		slotIndex:      0,
	}
	sfields[1] = ArtField{
		declaringClass: klass,
		accessFlags:    container.AccStatic | container.AccPublic | container.AccFinal,
		dexFieldIndex:  1,
		name:           "throws",
		typeDescriptor: "[[Ljava/lang/Class;",
		slotIndex:      1,
	}
	klass.sfields = sfields
	klass.staticSlots = make([]rt.Value, 2)

	// 直接方法只有构造器，从代理父类拷贝
	directs := alloc.AllocMethodArray(1)
	if err := l.createProxyConstructor(klass, proxyRoot, &directs[0]); err != nil {
		self.EndAssertNoThreadSuspension()
		return nil, err
	}
	klass.directMethods = directs

	// 虚方法逐个克隆原型
	virtuals := alloc.AllocMethodArray(len(prototypes))
	for i, prototype := range prototypes {
		l.createProxyMethod(klass, prototype, &virtuals[i])
	}
	klass.virtualMethods = virtuals
	self.EndAssertNoThreadSuspension()

	klass.SetSuperClass(proxyRoot)
	klass.SetStatus(StatusLoaded)

	newClass, err := l.LinkClass(self, descriptor, klass, interfaces)
	if err != nil {
		if !klass.IsErroneous() {
			klass.SetErrorStatus(err)
		}
		return nil, err
	}
	if !klass.IsRetired() || newClass == klass {
		return nil, lerr.Newf(lerr.KindInternal, "proxy temp class %s not retired", name)
	}

	// 终态类落静态槽并收尾
	m2 := newClass.monitor
	m2.Lock(self)
	defer m2.Unlock(self)
	newClass.SetStaticSlot(0, rt.NewRef(interfaces))
	newClass.SetStaticSlot(1, rt.NewRef(throws))
	newClass.SetStatus(StatusInitialized)
	return newClass, nil
}

// createProxyConstructor 从代理父类拷贝构造器
func (l *Linker) createProxyConstructor(klass, proxyRoot *Class, out *ArtMethod) error {
	proto := proxyRoot.FindDeclaredDirectMethod("<init>", proxyConstructorSignature)
	if proto == nil {
		return lerr.Newf(lerr.KindInternal, "proxy root has no handler constructor")
	}
	out.copyFrom(proto)
	out.accessFlags = (out.accessFlags &^ container.AccProtected) | container.AccPublic
	out.declaringClass = klass
	return nil
}

// createProxyMethod 克隆一个方法原型并指向代理调用处理器
func (l *Linker) createProxyMethod(klass *Class, prototype *ArtMethod, out *ArtMethod) {
	// 原型的容器信息照搬，之后按需特化
	out.copyFrom(prototype)
	out.declaringClass = klass
	out.accessFlags = (out.accessFlags &^ container.AccAbstract) | container.AccFinal
	out.entrypoint = l.tramps.ProxyInvoke
}

// ProxyInterfaces 代理类声明的接口列表（静态槽 0 的原始视图）
func (c *Class) ProxyInterfaces() []*Class { return c.proxyInterfaces }

// ProxyThrows 代理方法的 throws 矩阵（静态槽 1 的原始视图）
func (c *Class) ProxyThrows() [][]*Class { return c.proxyThrows }
