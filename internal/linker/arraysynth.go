package linker

import (
	"github.com/tangzhangming/solar/internal/container"
	lerr "github.com/tangzhangming/solar/internal/errors"
	rt "github.com/tangzhangming/solar/internal/runtime"
)

// ============================================================================
// 数组类合成
// ============================================================================

// findArrayClassCacheLookup 快速缓存探测
func (l *Linker) findArrayClassCacheLookup(descriptor string) *Class {
	for i := 0; i < kFindArrayCacheSize; i++ {
		if c := l.findArrayClassCache[i].Load(); c != nil && c.descriptor == descriptor {
			return c
		}
	}
	return nil
}

// findArrayClassCacheInsert 轮转写入快速缓存
func (l *Linker) findArrayClassCacheInsert(klass *Class) {
	victim := l.findArrayClassCacheVictim.Inc() % kFindArrayCacheSize
	l.findArrayClassCache[victim].Store(klass)
}

// CreateArrayClass 按需合成数组类
//
// 数组类的加载器取元素类型的加载器，不是请求方的；
// 父类固定为根对象类，虚表直接指向根对象类的虚表，
// 接口表共享全局数组接口表（Cloneable + Serializable）。
func (l *Linker) CreateArrayClass(self *rt.Thread, descriptor string, hash uint32, loader *ClassLoader) (*Class, error) {
	if descriptor == "" || descriptor[0] != '[' {
		return nil, lerr.Newf(lerr.KindInternal, "bad array descriptor %q", descriptor)
	}
	if cached := l.findArrayClassCacheLookup(descriptor); cached != nil {
		return cached, nil
	}

	// 元素类型先行；错误态的元素类型也接受（与原定义方语义一致）
	componentType, err := l.FindClass(self, descriptor[1:], loader)
	if err != nil {
		componentHash := ComputeModifiedUtf8Hash(descriptor[1:])
		componentType = l.LookupClass(descriptor[1:], componentHash, loader)
		if componentType == nil {
			return nil, err
		}
	}
	if componentType.IsPrimitiveVoid() {
		return nil, lerr.Newf(lerr.KindNoClassDefFound,
			"attempt to create array of void primitive type")
	}

	// 数组类挂在元素类型的加载器下，换个加载器再查一次
	if loader != componentType.loader {
		if existing := l.LookupClass(descriptor, hash, componentType.loader); existing != nil {
			return existing, nil
		}
	}

	var newClass *Class
	if !l.initDone {
		// 引导期手搓的数组类在这里被认领
		switch descriptor {
		case "[Ljava/lang/Class;":
			newClass = l.classRoots[kClassArrayClass]
		case "[Ljava/lang/Object;":
			newClass = l.classRoots[kObjectArrayClass]
		case "[C":
			newClass = l.classRoots[kCharArrayClass]
		case "[I":
			newClass = l.classRoots[kIntArrayClass]
		case "[J":
			newClass = l.classRoots[kLongArrayClass]
		}
	}
	if newClass == nil {
		objectRoot := l.classRoots[kJavaLangObject]
		newClass = allocArrayClass(descriptor, len(objectRoot.vtable))
		newClass.SetComponentType(componentType)
	}

	m := newClass.monitor
	m.Lock(self)
	defer m.Unlock(self)

	objectRoot := l.classRoots[kJavaLangObject]
	newClass.objClass = l.classRoots[kJavaLangClass]
	newClass.SetSuperClass(objectRoot)
	newClass.vtable = objectRoot.vtable
	newClass.primitiveKind = container.PrimNot
	newClass.loader = componentType.loader
	if componentType.IsPrimitive() {
		newClass.SetClassFlags(ClassFlagNoReferenceFields)
	} else {
		newClass.SetClassFlags(ClassFlagObjectArray)
	}
	newClass.SetStatus(StatusLoaded)

	// 嵌入 IMT：数组上没有接口方法实现，全部空槽
	imt := make([]*ArtMethod, kIMTSize)
	for i := range imt {
		imt[i] = l.imtUnimplemented
	}
	newClass.imt = imt
	newClass.SetStatus(StatusInitialized)
	// 实例大小由元素宽度和长度决定，objectSize 保持 0（变长）

	// 全局唯一的数组接口表
	newClass.SetIfTable(l.arrayIfTable)

	// 访问标志继承元素类型，去掉实现细节位；数组不可继承不可实现，
	// 补 abstract|final、去 interface
	accessFlags := newClass.componentType.accessFlags & container.AccJavaFlagsMask
	accessFlags |= container.AccAbstract | container.AccFinal
	accessFlags &^= container.AccInterface
	newClass.SetAccessFlags(accessFlags)

	if existing := l.InsertClass(descriptor, newClass, hash); existing != nil {
		// 竞争对手先完成了，放弃本次合成
		return existing, nil
	}
	l.findArrayClassCacheInsert(newClass)
	return newClass, nil
}

// allocArrayClass 按数组类的固定形状分配类对象
func allocArrayClass(descriptor string, vtableLen int) *Class {
	return newClass(descriptor, computeClassSize(true, vtableLen, 0, 0, 0, 0, 0))
}
