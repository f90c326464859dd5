package linker

import (
	"sort"

	"go.uber.org/zap"

	lerr "github.com/tangzhangming/solar/internal/errors"
	rt "github.com/tangzhangming/solar/internal/runtime"
)

// ============================================================================
// 链接管线
// ============================================================================

// LinkClass 对处于 Loaded 状态的类跑完整链接管线
//
// 顺序：父类检查 → 接口表 → 虚方法 → 接口方法 → 实例字段 → 静态字段。
// 需要嵌入表而初始分配尺寸不足的类在这里退役，换成正确尺寸的终态类。
// 调用方持有 klass 的监视器。
func (l *Linker) LinkClass(self *rt.Thread, descriptor string, klass *Class, interfaces []*Class) (*Class, error) {
	if klass.Status() != StatusLoaded {
		return nil, lerr.Newf(lerr.KindInternal, "link on %s in state %s", klass.PrettyName(), klass.Status())
	}
	if err := l.linkSuperClass(klass); err != nil {
		return nil, err
	}
	imt := make([]*ArtMethod, kIMTSize)
	for i := range imt {
		imt[i] = l.imtUnimplemented
	}
	if err := l.linkMethods(self, klass, interfaces, imt); err != nil {
		return nil, err
	}
	if err := l.linkInstanceFields(self, klass); err != nil {
		return nil, err
	}
	classSize, err := l.linkStaticFields(self, klass)
	if err != nil {
		return nil, err
	}
	l.createReferenceInstanceOffsets(klass)
	if klass.Status() != StatusLoaded {
		return nil, lerr.Newf(lerr.KindInternal, "status drift during link of %s", klass.PrettyName())
	}

	if !klass.IsTemp() || (!l.initDone && klass.classSize == classSize) {
		// 不需要退役：没有嵌入表，或引导期分配的尺寸本来就对
		if klass.classSize != classSize {
			return nil, lerr.Newf(lerr.KindInternal,
				"class size mismatch for %s: allocated %d computed %d",
				klass.PrettyName(), klass.classSize, classSize)
		}
		if klass.ShouldHaveEmbeddedTables() {
			klass.imt = imt
		}
		// 唤醒在 EnsureResolved 里看到未解析类的等待方
		klass.SetStatus(StatusResolved)
		return klass, nil
	}

	// 退役临时类，换正确尺寸的终态类
	newClass := l.copyOf(klass, classSize, imt)
	// 字段与方法数组的属主唯一，旧类不再持有
	klass.directMethods = nil
	klass.virtualMethods = nil
	klass.sfields = nil
	klass.ifields = nil

	m2 := newClass.monitor
	m2.Lock(self)
	defer m2.Unlock(self)
	l.fixupTemporaryDeclaringClass(klass, newClass)

	hash := ComputeModifiedUtf8Hash(descriptor)
	l.classLoadersLock.Lock()
	table := l.classTableForLoader(newClass.loader)
	existing := table.Update(descriptor, hash, newClass)
	if newClass.loader != nil {
		l.gc.WriteBarrierEveryFieldOf(newClass.loader)
	}
	if l.logNewRoots {
		l.newClassRoots = append(l.newClassRoots, newClass)
	}
	l.classLoadersLock.Unlock()
	if existing != klass {
		return nil, lerr.Newf(lerr.KindInternal,
			"temp class %s displaced during retirement", klass.PrettyName())
	}

	// 唤醒在临时类上等待退役的线程
	klass.SetStatus(StatusRetired)
	// 唤醒在终态类上等待解析完成的线程
	newClass.SetStatus(StatusResolved)
	return newClass, nil
}

// copyOf 按正确尺寸复制一个处于 Resolving 状态的终态类
func (l *Linker) copyOf(src *Class, classSize uint32, imt []*ArtMethod) *Class {
	n := newClass(src.descriptor, classSize)
	n.objClass = src.objClass
	n.name = src.name
	n.accessFlags = src.accessFlags
	n.classFlags = src.classFlags
	n.super = src.super
	n.componentType = src.componentType
	n.primitiveKind = src.primitiveKind
	n.loader = src.loader
	n.dexCache = src.dexCache
	n.file = src.file
	n.classDefIdx = src.classDefIdx
	n.directInterfaces = src.directInterfaces
	n.ifields = src.ifields
	n.sfields = src.sfields
	n.directMethods = src.directMethods
	n.virtualMethods = src.virtualMethods
	n.vtable = src.vtable
	n.ifTable = src.ifTable
	n.objectSize = src.objectSize
	n.numReferenceInstanceFields = src.numReferenceInstanceFields
	n.numReferenceStaticFields = src.numReferenceStaticFields
	n.referenceInstanceOffsets = src.referenceInstanceOffsets
	n.staticSlots = src.staticSlots
	n.proxyInterfaces = src.proxyInterfaces
	n.proxyThrows = src.proxyThrows
	if n.ShouldHaveEmbeddedTables() {
		n.imt = imt
	}
	n.SetClinitThreadID(src.ClinitThreadID())
	n.status.Store(int32(StatusResolving))
	return n
}

// fixupTemporaryDeclaringClass 退役窗口内更新成员回指针
func (l *Linker) fixupTemporaryDeclaringClass(temp, final *Class) {
	for i := range final.sfields {
		if final.sfields[i].declaringClass == temp {
			final.sfields[i].declaringClass = final
		}
	}
	for i := range final.ifields {
		if final.ifields[i].declaringClass == temp {
			final.ifields[i].declaringClass = final
		}
	}
	for i := range final.directMethods {
		if final.directMethods[i].declaringClass == temp {
			final.directMethods[i].declaringClass = final
		}
	}
	for i := range final.virtualMethods {
		if final.virtualMethods[i].declaringClass == temp {
			final.virtualMethods[i].declaringClass = final
		}
	}
	l.gc.WriteBarrierEveryFieldOf(final)
}

// ============================================================================
// 父类链接
// ============================================================================

// linkSuperClass 检查父类的合法性并传播角色标志
func (l *Linker) linkSuperClass(klass *Class) error {
	if klass.IsPrimitive() {
		return lerr.Newf(lerr.KindInternal, "primitive class in link pipeline")
	}
	super := klass.super
	if klass.descriptor == "Ljava/lang/Object;" {
		if super != nil {
			return lerr.Newf(lerr.KindClassFormat, "java.lang.Object must not have a superclass")
		}
		return nil
	}
	if super == nil {
		return lerr.Newf(lerr.KindLinkage, "no superclass defined for class %s", klass.PrettyName())
	}
	if super.IsFinal() || super.IsInterface() {
		kind := "declared final"
		if super.IsInterface() {
			kind = "an interface"
		}
		return lerr.Newf(lerr.KindIncompatibleClassChange,
			"superclass %s of %s is %s", super.PrettyName(), klass.PrettyName(), kind)
	}
	if !klass.CanAccess(super) {
		return lerr.Newf(lerr.KindIllegalAccess,
			"superclass %s is inaccessible to class %s", super.PrettyName(), klass.PrettyName())
	}

	// 没有覆盖 finalize 的子类继承可终结性
	if super.IsFinalizable() {
		klass.SetFinalizable()
	}
	if super.IsClassLoaderClass() {
		klass.SetClassLoaderClass()
	}
	if refFlags := super.classFlags & ClassFlagReference; refFlags != 0 {
		klass.classFlags |= refFlags
	}
	// 引用根的直接子类只允许出现在引导期
	if l.initDone && super == l.classRoots[kJavaLangRefReference] {
		return lerr.Newf(lerr.KindLinkage,
			"class %s attempts to subclass java.lang.ref.Reference, which is not allowed",
			klass.PrettyName())
	}
	return nil
}

// ============================================================================
// 方法链接入口
// ============================================================================

// linkMethods 构建虚表与接口表
//
// 接口表先建：要靠它判断哪些虚表槽需要换成新的默认方法实现。
// 默认方法要等 LinkInterfaceMethods 才进入本类虚方法数组，之前发现的
// 槽位替换先记进 translations。
func (l *Linker) linkMethods(self *rt.Thread, klass *Class, interfaces []*Class, imt []*ArtMethod) error {
	self.AllowThreadSuspension()
	defaultTranslations := make(map[int]*ArtMethod)
	if err := l.setupInterfaceLookupTable(self, klass, interfaces); err != nil {
		return err
	}
	if err := l.linkVirtualMethods(self, klass, defaultTranslations); err != nil {
		return err
	}
	return l.linkInterfaceMethods(self, klass, defaultTranslations, imt)
}

// ============================================================================
// 虚方法链接
// ============================================================================

// 临时散列表的哨兵：空槽与已摘除槽
const (
	hashInvalidIndex = ^uint32(0)
	hashRemovedIndex = ^uint32(0) - 1
)

// linkVirtualHashTable 覆盖判定用的临时散列表（线性探测）
type linkVirtualHashTable struct {
	klass *Class
	table []uint32
}

func newLinkVirtualHashTable(klass *Class, size int) *linkVirtualHashTable {
	t := &linkVirtualHashTable{klass: klass, table: make([]uint32, size)}
	for i := range t.table {
		t.table[i] = hashInvalidIndex
	}
	return t
}

// Add 登记本类第 i 个虚方法
func (t *linkVirtualHashTable) Add(virtualMethodIdx uint32) {
	m := t.klass.VirtualMethod(int(virtualMethodIdx))
	hash := ComputeModifiedUtf8Hash(m.name)
	idx := hash % uint32(len(t.table))
	for t.table[idx] != hashInvalidIndex {
		idx++
		if idx == uint32(len(t.table)) {
			idx = 0
		}
	}
	t.table[idx] = virtualMethodIdx
}

// FindAndRemove 找与给定名字签名相同的本类虚方法并摘除
func (t *linkVirtualHashTable) FindAndRemove(name, signature string) uint32 {
	hash := ComputeModifiedUtf8Hash(name)
	idx := hash % uint32(len(t.table))
	for {
		value := t.table[idx]
		// 线性探测的块是连续的，撞到空槽即可判定不存在
		if value == hashInvalidIndex {
			return hashInvalidIndex
		}
		if value != hashRemovedIndex {
			m := t.klass.VirtualMethod(int(value))
			if m.name == name && m.signature == signature {
				t.table[idx] = hashRemovedIndex
				return value
			}
		}
		idx++
		if idx == uint32(len(t.table)) {
			idx = 0
		}
	}
}

// linkVirtualMethods 构建虚表
func (l *Linker) linkVirtualMethods(self *rt.Thread, klass *Class, defaultTranslations map[int]*ArtMethod) error {
	numVirtual := klass.NumVirtualMethods()
	if klass.IsInterface() {
		// 接口没有虚表；方法索引取声明序
		if numVirtual >= kMaxVTableLength {
			return lerr.Newf(lerr.KindClassFormat,
				"too many methods on interface: %d", numVirtual)
		}
		hasDefaults := false
		for i := 0; i < numVirtual; i++ {
			m := klass.VirtualMethod(i)
			m.SetMethodIndex(uint16(i))
			if !m.IsAbstract() {
				m.accessFlags |= AccDefault
				hasDefaults = true
			}
		}
		// 带默认方法的接口在初始化时要走 <clinit> 协议，打标避免再扫一遍
		if hasDefaults {
			klass.SetHasDefaultMethods()
		}
		return nil
	}

	if klass.super == nil {
		// 根对象类
		if numVirtual >= kMaxVTableLength {
			return lerr.Newf(lerr.KindClassFormat, "too many methods: %d", numVirtual)
		}
		vtable := make([]*ArtMethod, numVirtual)
		for i := 0; i < numVirtual; i++ {
			m := klass.VirtualMethod(i)
			vtable[i] = m
			m.SetMethodIndex(uint16(i))
		}
		klass.vtable = vtable
		return nil
	}

	super := klass.super
	superVTableLength := len(super.vtable)
	maxCount := numVirtual + superVTableLength

	// 没有新方法也没有新接口时本类不可能覆盖任何东西，直接共享父类虚表；
	// 新接口可能带来新的默认方法实现，那就必须走完整流程
	if numVirtual == 0 && super.ifTable.Count() == klass.ifTable.Count() {
		klass.vtable = super.vtable
		return nil
	}

	vtable := make([]*ArtMethod, superVTableLength, maxCount)
	copy(vtable, super.vtable)

	// 散列表法判覆盖：先把本类虚方法全部登记，再逐个父类虚表槽查询
	hashTableSize := numVirtual*3 + 1
	hashTable := newLinkVirtualHashTable(klass, hashTableSize)
	for i := 0; i < numVirtual; i++ {
		hashTable.Add(uint32(i))
	}
	for j := 0; j < superVTableLength; j++ {
		superMethod := vtable[j]
		hashIdx := hashTable.FindAndRemove(superMethod.name, superMethod.signature)
		if hashIdx != hashInvalidIndex {
			virtualMethod := klass.VirtualMethod(int(hashIdx))
			if klass.CanAccessMember(superMethod.declaringClass, superMethod.accessFlags) {
				if superMethod.IsFinal() {
					return lerr.Newf(lerr.KindLinkage,
						"method %s.%s overrides final method in class %s",
						klass.PrettyName(), virtualMethod.name,
						superMethod.declaringClass.PrettyName())
				}
				vtable[j] = virtualMethod
				virtualMethod.SetMethodIndex(uint16(j))
			} else {
				l.log.Warn("method would have incorrectly overridden package-private method",
					zap.String("method", virtualMethod.name),
					zap.String("super", superMethod.declaringClass.PrettyName()))
			}
		} else if superMethod.IsOverridableByDefaultMethod() {
			// 没有直接覆盖，但新接口可能带来更合适的默认实现
			defaultMethod, conflict := l.findDefaultMethodImplementation(self, superMethod, klass)
			if conflict {
				// 冲突推迟到首次调用再报：槽位换成冲突哨兵
				defaultTranslations[j] = l.newDefaultConflictMethod(superMethod)
				continue
			}
			// 继承了父类的接口，这里必然能重新选出一个实现
			if defaultMethod == nil {
				if superMethod.IsDefaultConflicting() {
					continue // 父类的冲突槽位维持原样
				}
				return lerr.Newf(lerr.KindInternal,
					"lost default method %s during relink of %s",
					superMethod.name, klass.PrettyName())
			}
			if defaultMethod.declaringClass != superMethod.declaringClass {
				// 槽位要换，但默认方法还没进本类虚方法数组，先记账
				defaultTranslations[j] = defaultMethod
			}
		}
	}

	// 非覆盖的本类方法追加到末尾
	actualCount := superVTableLength
	for i := 0; i < numVirtual; i++ {
		localMethod := klass.VirtualMethod(i)
		methodIdx := int(localMethod.methodIndex)
		if methodIdx < superVTableLength && vtable[methodIdx] == localMethod {
			continue
		}
		vtable = append(vtable, localMethod)
		localMethod.SetMethodIndex(uint16(actualCount))
		actualCount++
	}
	if actualCount >= kMaxVTableLength {
		return lerr.Newf(lerr.KindClassFormat, "too many methods defined on class: %d", actualCount)
	}
	klass.vtable = vtable
	return nil
}

// ============================================================================
// 默认方法选择
// ============================================================================

// findDefaultMethodImplementation 为目标方法挑默认实现
//
// 接口表保证子接口排在父接口之后，倒序扫描首个带体的同名同签名方法
// 就是最具体的候选；继续扫完全表以发现冲突：另一个带体实现、且其声明
// 接口不是候选声明接口的父类型，即为冲突。
// 没有实现返回 (nil, false)；冲突返回 (nil, true)，由调用方放置冲突
// 哨兵，类变更错误推迟到首次调用。
func (l *Linker) findDefaultMethodImplementation(self *rt.Thread, targetMethod *ArtMethod, klass *Class) (*ArtMethod, bool) {
	var chosen *ArtMethod
	var chosenIface *Class

	iftable := klass.ifTable
	for k := iftable.Count() - 1; k >= 0; k-- {
		iface := iftable.Interface(k)
		for m := 0; m < iface.NumVirtualMethods(); m++ {
			current := iface.VirtualMethod(m)
			if current.IsAbstract() || !targetMethod.HasSameNameAndSignature(current) {
				continue
			}
			if chosen != nil {
				if !iface.IsAssignableFrom(chosenIface) {
					l.log.Debug("conflicting default method implementations",
						zap.String("class", klass.PrettyName()),
						zap.String("method", current.name),
						zap.String("iface_a", iface.PrettyName()),
						zap.String("iface_b", chosenIface.PrettyName()))
					return nil, true
				}
				break // 被候选遮蔽，看下一个接口
			}
			chosen = current
			chosenIface = iface
			break // 记住候选，继续全表扫描找冲突
		}
	}
	_ = self
	return chosen, false
}

// newDefaultConflictMethod 合成默认方法冲突哨兵
//
// 形状取目标接口方法；入口点指向解释器桥，解析与分派路径看到
// 冲突标志后报不兼容的类变更错误。
func (l *Linker) newDefaultConflictMethod(target *ArtMethod) *ArtMethod {
	cm := &ArtMethod{}
	cm.copyFrom(target)
	cm.accessFlags |= AccDefaultConflict
	cm.entrypoint = l.tramps.ToInterpreter
	return cm
}

// ============================================================================
// 接口表构建
// ============================================================================

// notSubinterfaceOfAny 校验 val 不是集合中任何接口的父类型
func notSubinterfaceOfAny(classes map[*Class]bool, val *Class) bool {
	for c := range classes {
		if val.IsAssignableFrom(c) {
			return false
		}
	}
	return true
}

// fillIfTable 展平接口继承并保持"父接口在前"的次序
//
// 进入时前 superIfCount 个条目是父类接口表的拷贝，其余待填。
// 返回去重后的条目数。
func fillIfTable(iftable *IfTable, superIfCount int, toProcess []*Class) (int, error) {
	seen := make(map[*Class]bool)
	for i := 0; i < superIfCount; i++ {
		iface := iftable.Interface(i)
		if !notSubinterfaceOfAny(seen, iface) {
			return 0, lerr.Newf(lerr.KindInternal, "bad interface order inherited from super")
		}
		seen[iface] = true
	}
	filled := superIfCount
	for _, iface := range toProcess {
		if seen[iface] {
			continue
		}
		// 先补上它的全部父接口，再放它自己
		for j := 0; j < iface.ifTable.Count(); j++ {
			superIface := iface.ifTable.Interface(j)
			if !seen[superIface] {
				seen[superIface] = true
				iftable.SetInterface(filled, superIface)
				filled++
			}
		}
		seen[iface] = true
		iftable.SetInterface(filled, iface)
		filled++
	}
	return filled, nil
}

// checkIfTableOrder 去重会原地挪动条目，收尾断言次序不变量仍然成立
func checkIfTableOrder(iftable *IfTable, count int) error {
	for i := 0; i < count; i++ {
		a := iftable.Interface(i)
		for j := i + 1; j < count; j++ {
			b := iftable.Interface(j)
			if b.IsAssignableFrom(a) {
				return lerr.Newf(lerr.KindInternal,
					"bad interface order: %s (index %d) extends %s (index %d)",
					a.PrettyName(), i, b.PrettyName(), j)
			}
		}
	}
	return nil
}

// setupInterfaceLookupTable 计算传递闭包接口表
//
// interfaces 非空时（代理合成）优先于容器声明。
func (l *Linker) setupInterfaceLookupTable(self *rt.Thread, klass *Class, interfaces []*Class) error {
	superIfCount := 0
	if klass.super != nil {
		superIfCount = klass.super.ifTable.Count()
	}
	direct := interfaces
	if direct == nil {
		direct = klass.directInterfaces
	}
	numInterfaces := len(direct)

	if numInterfaces == 0 {
		if superIfCount == 0 {
			return nil
		}
		// 只从父类继承接口；全是 marker 接口时直接复用父类接口表
		superIfTable := klass.super.ifTable
		hasNonMarker := false
		for i := 0; i < superIfCount; i++ {
			if len(superIfTable.MethodArray(i)) > 0 {
				hasNonMarker = true
				break
			}
		}
		if !hasNonMarker {
			klass.SetIfTable(superIfTable)
			return nil
		}
	}

	ifcount := superIfCount + numInterfaces
	for _, iface := range direct {
		if !iface.IsInterface() {
			return lerr.Newf(lerr.KindIncompatibleClassChange,
				"class %s implements non-interface class %s",
				klass.PrettyName(), iface.PrettyName())
		}
		ifcount += iface.ifTable.Count()
	}

	iftable := newIfTable(ifcount)
	if superIfCount != 0 {
		superIfTable := klass.super.ifTable
		for i := 0; i < superIfCount; i++ {
			iftable.SetInterface(i, superIfTable.Interface(i))
		}
	}

	self.AllowThreadSuspension()

	newIfCount, err := fillIfTable(iftable, superIfCount, direct)
	if err != nil {
		return err
	}

	self.AllowThreadSuspension()

	if newIfCount < ifcount {
		iftable.shrink(newIfCount)
	}
	if err := checkIfTableOrder(iftable, newIfCount); err != nil {
		return err
	}
	klass.SetIfTable(iftable)
	return nil
}

// ============================================================================
// 接口方法链接
// ============================================================================

// setIMTRef 往 IMT 槽放方法
//
// 空槽直接放；同名同签名视为覆盖父类条目直接换；其余写冲突哨兵，
// 分派时走接口表慢查。
func setIMTRef(unimplemented, conflict, current *ArtMethod, imtRef **ArtMethod) {
	switch {
	case *imtRef == unimplemented:
		*imtRef = current
	case *imtRef != conflict:
		if (*imtRef).HasSameNameAndSignature(current) {
			*imtRef = current
		} else {
			*imtRef = conflict
		}
	}
}

// linkInterfaceMethods 填充接口表方法数组、IMT，合成米兰达方法，
// 落位默认方法并回填虚表替换记录
func (l *Linker) linkInterfaceMethods(self *rt.Thread, klass *Class, defaultTranslations map[int]*ArtMethod, imt []*ArtMethod) error {
	if klass.IsInterface() {
		return nil
	}
	hasSuper := klass.super != nil
	superIfCount := 0
	if hasSuper {
		superIfCount = klass.super.ifTable.Count()
	}
	iftable := klass.ifTable
	ifcount := iftable.Count()
	vtable := klass.vtable

	var mirandaMethods []*ArtMethod
	var defaultMethods []*ArtMethod
	var defaultConflictMethods []*ArtMethod

	// 从父类拿 IMT；父类没有嵌入表时按它的接口表重建
	if hasSuper {
		super := klass.super
		if super.imt != nil {
			copy(imt, super.imt)
		} else {
			superIfTable := super.ifTable
			for i := 0; i < superIfTable.Count(); i++ {
				iface := superIfTable.Interface(i)
				methodArray := superIfTable.MethodArray(i)
				for j := 0; j < len(methodArray); j++ {
					method := methodArray[j]
					if method == nil || method.IsDefault() || method.IsMiranda() {
						continue
					}
					interfaceMethod := iface.VirtualMethod(j)
					imtIdx := interfaceMethod.dexMethodIndex % kIMTSize
					ref := &imt[imtIdx]
					if *ref == l.imtUnimplemented {
						*ref = method
					} else if *ref != l.imtConflict {
						*ref = l.imtConflict
					}
				}
			}
		}
	}

	// 先分配方法数组：数组挂进类之前不能出现挂起点，
	// 否则米兰达方法根会漏扫
	for i := 0; i < ifcount; i++ {
		numMethods := iftable.Interface(i).NumVirtualMethods()
		if numMethods == 0 {
			continue
		}
		superInterface := i < superIfCount && hasSuper
		var methodArray []*ArtMethod
		if superInterface {
			// 父类实现过的接口，尽量在它的方法数组基础上扩展
			src := klass.super.ifTable.MethodArray(i)
			methodArray = make([]*ArtMethod, len(src))
			copy(methodArray, src)
		} else {
			methodArray = make([]*ArtMethod, numMethods)
		}
		iftable.SetMethodArray(i, methodArray)
	}

	self.StartAssertNoThreadSuspension()
	for i := 0; i < ifcount; i++ {
		iface := iftable.Interface(i)
		numMethods := iface.NumVirtualMethods()
		if numMethods == 0 {
			continue
		}
		superInterface := i < superIfCount && hasSuper
		methodArray := iftable.MethodArray(i)

		// 父类接口只需扫本类新声明的虚方法；新接口要扫整张虚表，
		// 实现可能来自任何祖先
		var inputVirtuals *Class
		var inputVTable []*ArtMethod
		inputLen := 0
		if superInterface {
			inputVirtuals = klass
			inputLen = klass.NumVirtualMethods()
		} else {
			inputVTable = vtable
			inputLen = len(vtable)
		}

		for j := 0; j < numMethods; j++ {
			interfaceMethod := iface.VirtualMethod(j)
			imtIdx := interfaceMethod.dexMethodIndex % kIMTSize
			imtRef := &imt[imtIdx]

			// 从虚表尾部往前扫，让子类实现优先于父类
			foundImpl := false
			foundDefaultImpl := false
			var defaultImpl *ArtMethod
			for k := inputLen - 1; k >= 0; k-- {
				var vtableMethod *ArtMethod
				if inputVirtuals != nil {
					vtableMethod = inputVirtuals.VirtualMethod(k)
				} else {
					vtableMethod = inputVTable[k]
				}
				if !interfaceMethod.HasSameNameAndSignature(vtableMethod) {
					continue
				}
				if !vtableMethod.IsAbstract() && !vtableMethod.IsPublic() {
					self.EndAssertNoThreadSuspension()
					return lerr.Newf(lerr.KindIllegalAccess,
						"method %s.%s implementing interface method %s.%s is not public",
						vtableMethod.declaringClass.PrettyName(), vtableMethod.name,
						iface.PrettyName(), interfaceMethod.name)
				}
				if vtableMethod.IsDefault() {
					// 可能有更新的默认实现，走默认方法选择；记下已有的
					// 避免重复拷贝
					foundDefaultImpl = true
					defaultImpl = vtableMethod
					break
				}
				foundImpl = true
				methodArray[j] = vtableMethod
				setIMTRef(l.imtUnimplemented, l.imtConflict, vtableMethod, imtRef)
				break
			}

			// 本类没有直接实现，且接口是新实现的、或父类槽位本身可被
			// 默认方法取代时，做默认方法选择
			if !foundImpl && (!superInterface ||
				(methodArray[j] != nil && methodArray[j].IsOverridableByDefaultMethod())) {
				currentMethod, conflict := l.findDefaultMethodImplementation(self, interfaceMethod, klass)
				if conflict {
					// 冲突哨兵占住槽位，首次调用才报类变更错误；
					// 同名同签名的冲突共用一个哨兵
					var cm *ArtMethod
					for _, existing := range defaultConflictMethods {
						if interfaceMethod.HasSameNameAndSignature(existing) {
							cm = existing
							break
						}
					}
					if cm == nil {
						cm = l.newDefaultConflictMethod(interfaceMethod)
						defaultConflictMethods = append(defaultConflictMethods, cm)
					}
					methodArray[j] = cm
					setIMTRef(l.imtUnimplemented, l.imtConflict, cm, imtRef)
					foundImpl = true
				}
				if currentMethod != nil {
					if foundDefaultImpl && currentMethod.declaringClass == defaultImpl.declaringClass {
						// 和父类里已有的是同一个实现，不再重复拷贝
						currentMethod = defaultImpl
					} else {
						defaultMethods = append(defaultMethods, currentMethod)
					}
					methodArray[j] = currentMethod
					setIMTRef(l.imtUnimplemented, l.imtConflict, currentMethod, imtRef)
					foundImpl = true
				}
			}

			if !foundImpl && !superInterface {
				// 彻底没有实现：合成米兰达方法占住虚表槽
				var miranda *ArtMethod
				for _, mir := range mirandaMethods {
					if interfaceMethod.HasSameNameAndSignature(mir) {
						miranda = mir
						break
					}
				}
				if miranda == nil {
					miranda = &ArtMethod{}
					miranda.copyFrom(interfaceMethod)
					mirandaMethods = append(mirandaMethods, miranda)
				}
				methodArray[j] = miranda
			}
		}
	}

	// LinkVirtualMethods 记下的冲突哨兵也要进本类虚方法数组；
	// 按槽位序遍历保证布局确定
	if len(defaultTranslations) != 0 {
		slots := make([]int, 0, len(defaultTranslations))
		for slot := range defaultTranslations {
			slots = append(slots, slot)
		}
		sort.Ints(slots)
		for _, slot := range slots {
			if t := defaultTranslations[slot]; t.IsDefaultConflicting() {
				defaultConflictMethods = append(defaultConflictMethods, t)
			}
		}
	}

	if len(mirandaMethods) != 0 || len(defaultMethods) != 0 || len(defaultConflictMethods) != 0 {
		oldMethodCount := klass.NumVirtualMethods()
		newMethodCount := oldMethodCount + len(mirandaMethods) + len(defaultMethods) + len(defaultConflictMethods)
		alloc := l.allocatorForLoader(klass.loader)

		oldVirtuals := klass.virtualMethods
		virtuals := alloc.ReallocMethodArray(oldVirtuals, newMethodCount)

		// 旧存储 → 新存储的指针搬迁表
		moveTable := make(map[*ArtMethod]*ArtMethod, newMethodCount)
		for i := range oldVirtuals {
			moveTable[&oldVirtuals[i]] = &virtuals[i]
		}
		out := oldMethodCount
		for _, mir := range mirandaMethods {
			nm := &virtuals[out]
			nm.copyFrom(mir)
			nm.accessFlags |= AccMiranda
			moveTable[mir] = nm
			out++
		}
		// 默认方法必须进本类虚方法数组：虚表上的每个方法都要能从它
		// 声明序里找到。声明类保持接口不变，容器索引相对它才有意义。
		for _, def := range defaultMethods {
			nm := &virtuals[out]
			nm.copyFrom(def)
			nm.accessFlags |= AccDefault
			// 本类还没校验过，不继承原型上的预校验标记
			nm.accessFlags &^= AccPreverified
			moveTable[def] = nm
			out++
		}
		for _, cm := range defaultConflictMethods {
			nm := &virtuals[out]
			nm.copyFrom(cm)
			moveTable[cm] = nm
			out++
		}
		klass.virtualMethods = virtuals
		l.gc.WriteBarrierEveryFieldOf(klass)
		self.EndAssertNoThreadSuspension()

		oldVTableCount := len(vtable)
		newVTableCount := oldVTableCount + len(mirandaMethods) + len(defaultMethods) + len(defaultConflictMethods)
		newVTable := make([]*ArtMethod, newVTableCount)
		copy(newVTable, vtable)
		pos := oldVTableCount
		for i := oldMethodCount; i < newMethodCount; i++ {
			m := &virtuals[i]
			m.SetMethodIndex(uint16(pos))
			newVTable[pos] = m
			pos++
		}

		// 回填 LinkVirtualMethods 记下的默认方法替换
		for i := 0; i < oldVTableCount; i++ {
			translated := newVTable[i]
			foundTranslation := false
			if t, ok := defaultTranslations[i]; ok {
				translated = t
				foundTranslation = true
			}
			if nm, ok := moveTable[translated]; ok {
				newVTable[i] = nm
			} else if foundTranslation {
				return lerr.Newf(lerr.KindInternal,
					"vtable translation target missing for slot %d of %s", i, klass.PrettyName())
			}
		}
		klass.vtable = newVTable

		// 接口表与 IMT 里的旧指针统一搬迁
		for i := 0; i < ifcount; i++ {
			methodArray := iftable.MethodArray(i)
			for j := range methodArray {
				if nm, ok := moveTable[methodArray[j]]; ok {
					methodArray[j] = nm
				}
			}
		}
		for i := range imt {
			if nm, ok := moveTable[imt[i]]; ok {
				imt[i] = nm
			}
		}
	} else {
		self.EndAssertNoThreadSuspension()
	}

	for i, m := range klass.vtable {
		if m == nil {
			return lerr.Newf(lerr.KindInternal, "hole at vtable slot %d of %s", i, klass.PrettyName())
		}
	}
	return nil
}
