package linker

import (
	"go.uber.org/zap"

	"github.com/tangzhangming/solar/internal/container"
	lerr "github.com/tangzhangming/solar/internal/errors"
	rt "github.com/tangzhangming/solar/internal/runtime"
)

// ============================================================================
// 引导
// ============================================================================
//
// 查找可用之前先手搓类型系统的底座：根类的类（自引用）、根对象类、
// 类数组、原始类型、字符串类、引用类和原始类型数组。然后把它们逐个
// 重放过 find_system_class，补齐容器回指针。次序由分配依赖决定；
// 手搓结果与重放结果不一致是致命错误。
//
// ============================================================================

// kCoreObjectVTableLength 引导类路径里根对象类声明的虚方法数
//
// 手搓阶段还读不到容器，根对象类的虚表长度必须先行约定；
// 重放时不符会作为引导失败报出。
const kCoreObjectVTableLength = 5

// bootClassMismatch 手搓与重放不一致
func bootClassMismatch(descriptor string, detail string) error {
	return lerr.Newf(lerr.KindInternal,
		"boot class %s mismatch between hand-built and replayed class: %s", descriptor, detail)
}

// createPrimitiveClass 建一个原始类型类并发布
func (l *Linker) createPrimitiveClass(self *rt.Thread, kind container.PrimitiveType) (*Class, error) {
	descriptor := kind.Descriptor()
	klass := newClass(descriptor, computeClassSize(false, 0, 0, 0, 0, 0, 0))
	klass.objClass = l.classRoots[kJavaLangClass]
	klass.primitiveKind = kind

	m := klass.monitor
	m.Lock(self)
	defer m.Unlock(self)
	klass.SetAccessFlags(container.AccPublic | container.AccFinal | container.AccAbstract)
	klass.SetStatus(StatusInitialized)
	if existing := l.InsertClass(descriptor, klass, ComputeModifiedUtf8Hash(descriptor)); existing != nil {
		return nil, lerr.Newf(lerr.KindInternal, "primitive class %s already present", descriptor)
	}
	return klass, nil
}

// handBuiltClass 手搓一个引用类型类
func (l *Linker) handBuiltClass(descriptor string, classSize uint32) *Class {
	c := newClass(descriptor, classSize)
	c.objClass = l.classRoots[kJavaLangClass]
	return c
}

// replaySystemClass 经 find_system_class 重放一个类根
func (l *Linker) replaySystemClass(self *rt.Thread, root ClassRoot) error {
	descriptor := classRootDescriptors[root]
	want := l.classRoots[root]
	got, err := l.FindSystemClass(self, descriptor)
	if err != nil {
		return lerr.Wrapf(lerr.KindInternal, err, "boot replay of %s failed", descriptor)
	}
	if want != nil && got != want {
		return bootClassMismatch(descriptor, "replay produced a different class")
	}
	if want == nil {
		l.setClassRoot(root, got)
	}
	return nil
}

// InitWithoutImage 没有预链接镜像时的完整引导
func (l *Linker) InitWithoutImage(self *rt.Thread, bootContainers []*container.File) error {
	if l.initDone {
		return lerr.Newf(lerr.KindInternal, "linker already bootstrapped")
	}
	if len(bootContainers) == 0 {
		return lerr.Newf(lerr.KindInternal, "empty boot class path")
	}
	l.log.Info("bootstrapping class linker", zap.Int("boot_containers", len(bootContainers)))

	embeddedSize := computeClassSize(true, kCoreObjectVTableLength, 0, 0, 0, 0, 0)

	// 根类的类最先：其余类对象都要指到它，自己指自己
	javaLangClass := newClass(classRootDescriptors[kJavaLangClass], embeddedSize)
	javaLangClass.objClass = javaLangClass
	javaLangClass.classFlags |= ClassFlagClass
	l.classRoots[kJavaLangClass] = javaLangClass

	// 根对象类；根类的类以它为父
	javaLangObject := l.handBuiltClass(classRootDescriptors[kJavaLangObject], embeddedSize)
	javaLangObject.objectSize = kObjectHeaderSize
	javaLangClass.super = javaLangObject
	l.classRoots[kJavaLangObject] = javaLangObject

	// 反射要用的类数组与放类根的对象数组
	classArray := l.handBuiltClass(classRootDescriptors[kClassArrayClass], embeddedSize)
	classArray.componentType = javaLangClass
	l.classRoots[kClassArrayClass] = classArray
	objectArray := l.handBuiltClass(classRootDescriptors[kObjectArrayClass], embeddedSize)
	objectArray.componentType = javaLangObject
	l.classRoots[kObjectArrayClass] = objectArray

	// 字符串类（变长）与引用类
	javaLangString := l.handBuiltClass(classRootDescriptors[kJavaLangString], embeddedSize)
	javaLangString.SetStringClass()
	l.classRoots[kJavaLangString] = javaLangString

	javaLangRefReference := l.handBuiltClass(classRootDescriptors[kJavaLangRefReference],
		computeClassSize(false, 0, 0, 0, 0, 0, 0))
	javaLangRefReference.objectSize = kObjectHeaderSize + 4*kHeapReferenceSize
	l.classRoots[kJavaLangRefReference] = javaLangRefReference

	// 原始类型
	primRoots := []struct {
		root ClassRoot
		kind container.PrimitiveType
	}{
		{kPrimitiveBoolean, container.PrimBoolean},
		{kPrimitiveByte, container.PrimByte},
		{kPrimitiveChar, container.PrimChar},
		{kPrimitiveShort, container.PrimShort},
		{kPrimitiveInt, container.PrimInt},
		{kPrimitiveLong, container.PrimLong},
		{kPrimitiveFloat, container.PrimFloat},
		{kPrimitiveDouble, container.PrimDouble},
		{kPrimitiveVoid, container.PrimVoid},
	}
	for _, pr := range primRoots {
		klass, err := l.createPrimitiveClass(self, pr.kind)
		if err != nil {
			return err
		}
		l.setClassRoot(pr.root, klass)
	}

	// 字符串与解析缓存要用的原始类型数组
	charArray := l.handBuiltClass(classRootDescriptors[kCharArrayClass], embeddedSize)
	charArray.componentType = l.classRoots[kPrimitiveChar]
	l.classRoots[kCharArrayClass] = charArray
	intArray := l.handBuiltClass(classRootDescriptors[kIntArrayClass], embeddedSize)
	intArray.componentType = l.classRoots[kPrimitiveInt]
	l.classRoots[kIntArrayClass] = intArray
	longArray := l.handBuiltClass(classRootDescriptors[kLongArrayClass], embeddedSize)
	longArray.componentType = l.classRoots[kPrimitiveLong]
	l.classRoots[kLongArrayClass] = longArray

	// 数组接口表先占两个空槽，等系统类可查后再填
	l.arrayIfTable = newIfTable(2)

	// 引导类路径就位，find_system_class 从此可用
	for _, f := range bootContainers {
		l.AppendToBootClassPath(f)
	}

	// 逐个重放，补齐容器回指针
	for _, root := range []ClassRoot{kJavaLangObject, kJavaLangString, kJavaLangRefReference} {
		if err := l.replaySystemClass(self, root); err != nil {
			return err
		}
	}
	if javaLangObject.objectSize != kObjectHeaderSize {
		return bootClassMismatch(classRootDescriptors[kJavaLangObject], "object size changed by replay")
	}
	if len(javaLangObject.vtable) != kCoreObjectVTableLength {
		return bootClassMismatch(classRootDescriptors[kJavaLangObject], "virtual method count differs")
	}
	if javaLangRefReference.objectSize != kObjectHeaderSize+4*kHeapReferenceSize {
		return bootClassMismatch(classRootDescriptors[kJavaLangRefReference], "reference size changed by replay")
	}

	// 原始类型数组；对象类有虚表之后才能建
	for _, root := range []ClassRoot{
		kBooleanArrayClass, kByteArrayClass, kCharArrayClass, kShortArrayClass,
		kIntArrayClass, kLongArrayClass, kFloatArrayClass, kDoubleArrayClass,
	} {
		if err := l.replaySystemClass(self, root); err != nil {
			return err
		}
	}

	// 填唯一一份全局数组接口表
	if err := l.replaySystemClass(self, kJavaLangCloneable); err != nil {
		return err
	}
	if err := l.replaySystemClass(self, kJavaIoSerializable); err != nil {
		return err
	}
	l.arrayIfTable.SetInterface(0, l.classRoots[kJavaLangCloneable])
	l.arrayIfTable.SetInterface(1, l.classRoots[kJavaIoSerializable])

	// 类数组、对象数组与根类的类
	for _, root := range []ClassRoot{kClassArrayClass, kObjectArrayClass, kJavaLangClass} {
		if err := l.replaySystemClass(self, root); err != nil {
			return err
		}
	}

	// 加载器类与代理父类
	if err := l.replaySystemClass(self, kJavaLangClassLoader); err != nil {
		return err
	}
	l.classRoots[kJavaLangClassLoader].SetClassLoaderClass()
	if err := l.replaySystemClass(self, kJavaLangReflectProxy); err != nil {
		return err
	}

	if err := l.finishInit(self); err != nil {
		return err
	}
	// 非数组、非原始类型的类根直接推到 Initialized
	return l.RunRootClinits(self)
}

// finishInit 收尾检查并打开快路径
func (l *Linker) finishInit(self *rt.Thread) error {
	// 引用类的字段排布是 GC 的硬依赖
	ref := l.classRoots[kJavaLangRefReference]
	if ref.NumInstanceFields() != 4 {
		return bootClassMismatch(ref.descriptor, "expected 4 reference fields")
	}
	if ref.InstanceField(3).Name() != "referent" {
		return bootClassMismatch(ref.descriptor, "referent must be the last declared field")
	}

	for i := ClassRoot(0); i < kClassRootsMax; i++ {
		klass := l.classRoots[i]
		if klass == nil {
			return lerr.Newf(lerr.KindInternal, "class root %s not initialized", classRootDescriptors[i])
		}
		if !klass.IsArrayClass() && !klass.IsPrimitive() && klass.dexCache == nil {
			return bootClassMismatch(klass.descriptor, "no dex cache after replay")
		}
	}
	if l.arrayIfTable == nil || l.arrayIfTable.Interface(0) == nil || l.arrayIfTable.Interface(1) == nil {
		return lerr.Newf(lerr.KindInternal, "array interface table incomplete")
	}

	// 关掉 FindClass 与数组合成里的引导慢路径
	l.initDone = true
	l.log.Info("class linker bootstrap complete")
	return nil
}

// RunRootClinits 把非数组、非原始类型的类根推进到 Initialized
func (l *Linker) RunRootClinits(self *rt.Thread) error {
	for i := ClassRoot(0); i < kClassRootsMax; i++ {
		klass := l.classRoots[i]
		if klass.IsArrayClass() || klass.IsPrimitive() {
			continue
		}
		if ok, err := l.EnsureInitialized(self, klass, true, true); !ok {
			if err == nil {
				err = lerr.Newf(lerr.KindInternal, "root clinit of %s did not run", klass.PrettyName())
			}
			return err
		}
	}
	return nil
}
