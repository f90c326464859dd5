package linker

import (
	"go.uber.org/zap"

	"github.com/tangzhangming/solar/internal/container"
	lerr "github.com/tangzhangming/solar/internal/errors"
	rt "github.com/tangzhangming/solar/internal/runtime"
)

// ============================================================================
// 类查找
// ============================================================================

// findInClassPath 在一组容器里按描述符找类定义
func findInClassPath(descriptor string, hash uint32, classPath []*container.File) (*container.File, int32, bool) {
	for _, f := range classPath {
		if defIdx, ok := f.FindClassDef(descriptor, hash); ok {
			return f, defIdx, true
		}
	}
	return nil, -1, false
}

// FindClass 描述符 → 类
//
// 原始类型直接返回预分配类；数组走合成；其余经加载器链查找或定义。
// 失败返回 nil 与挂起的错误。
func (l *Linker) FindClass(self *rt.Thread, descriptor string, loader *ClassLoader) (*Class, error) {
	if descriptor == "" {
		return nil, lerr.Newf(lerr.KindInternal, "empty descriptor")
	}
	if len(descriptor) == 1 {
		// 单字符只可能是原始类型，绕过类表
		if prim := l.FindPrimitiveClass(descriptor[0]); prim != nil {
			return prim, nil
		}
		return nil, lerr.Newf(lerr.KindNoClassDefFound, "not a primitive type: %s", descriptor)
	}
	hash := ComputeModifiedUtf8Hash(descriptor)
	if klass := l.LookupClass(descriptor, hash, loader); klass != nil {
		return l.ensureResolved(self, descriptor, klass)
	}
	// 尚未加载
	if descriptor[0] == '[' {
		return l.CreateArrayClass(self, descriptor, hash, loader)
	}
	if loader == nil {
		// 引导加载器直接搜引导类路径
		if f, defIdx, ok := findInClassPath(descriptor, hash, l.bootClassPath); ok {
			return l.DefineClass(self, descriptor, hash, nil, f, defIdx)
		}
		return nil, lerr.Newf(lerr.KindNoClassDefFound,
			"class %s not found in boot class path", descriptor)
	}
	klass, err := l.findClassInBaseLoader(self, descriptor, hash, loader)
	if err != nil {
		return nil, err
	}
	if klass == nil {
		return nil, lerr.Newf(lerr.KindNoClassDefFound,
			"class %s not found in class loader chain", descriptor)
	}
	return klass, nil
}

// FindSystemClass 经引导加载器查找
func (l *Linker) FindSystemClass(self *rt.Thread, descriptor string) (*Class, error) {
	return l.FindClass(self, descriptor, nil)
}

// findClassInBaseLoader 沿加载器链查找：先父加载器，再自己声明的容器
//
// 找不到返回 (nil, nil)，由最外层统一转成找不到类定义的错误。
func (l *Linker) findClassInBaseLoader(self *rt.Thread, descriptor string, hash uint32, loader *ClassLoader) (*Class, error) {
	if loader == nil {
		if klass := l.LookupClass(descriptor, hash, nil); klass != nil {
			return l.ensureResolved(self, descriptor, klass)
		}
		if f, defIdx, ok := findInClassPath(descriptor, hash, l.bootClassPath); ok {
			return l.DefineClass(self, descriptor, hash, nil, f, defIdx)
		}
		return nil, nil
	}
	if klass, err := l.findClassInBaseLoader(self, descriptor, hash, loader.parent); klass != nil || err != nil {
		return klass, err
	}
	if klass := l.LookupClass(descriptor, hash, loader); klass != nil {
		return l.ensureResolved(self, descriptor, klass)
	}
	if f, defIdx, ok := findInClassPath(descriptor, hash, loader.containers); ok {
		return l.DefineClass(self, descriptor, hash, loader, f, defIdx)
	}
	return nil, nil
}

// LookupClass 只查类表，不触发定义
func (l *Linker) LookupClass(descriptor string, hash uint32, loader *ClassLoader) *Class {
	l.classLoadersLock.RLock()
	defer l.classLoadersLock.RUnlock()
	return l.classTableForLoader(loader).Lookup(descriptor, hash)
}

// InsertClass 发布一个类；竞争失败时返回已有条目
func (l *Linker) InsertClass(descriptor string, klass *Class, hash uint32) *Class {
	l.classLoadersLock.Lock()
	defer l.classLoadersLock.Unlock()
	table := l.classTableForLoader(klass.loader)
	if existing := table.Lookup(descriptor, hash); existing != nil {
		return existing
	}
	table.Insert(klass, hash)
	if klass.loader != nil {
		// 加载器对象新持有一个类引用，补卡
		l.gc.WriteBarrierEveryFieldOf(klass.loader)
	}
	if l.logNewRoots {
		l.newClassRoots = append(l.newClassRoots, klass)
	}
	return nil
}

// RemoveClass 从类表删除（失败回滚用）
func (l *Linker) RemoveClass(descriptor string, loader *ClassLoader) bool {
	l.classLoadersLock.Lock()
	defer l.classLoadersLock.Unlock()
	return l.classTableForLoader(loader).Remove(descriptor, ComputeModifiedUtf8Hash(descriptor))
}

// ============================================================================
// 等待解析完成
// ============================================================================

// earlierClassFailure 错误态类的重放错误
//
// 存有具体失败时原样重抛；否则退化为找不到类定义。
func (l *Linker) earlierClassFailure(c *Class) error {
	stored := c.StoredError()
	l.log.Debug("replaying earlier class failure",
		zap.String("class", c.PrettyName()),
		zap.Error(stored))
	if stored != nil && lerr.KindOf(stored) != lerr.KindNoClassDefFound {
		return stored
	}
	return lerr.Wrapf(lerr.KindNoClassDefFound, stored,
		"%s failed class linking earlier", c.PrettyName())
}

// ensureResolved 等一个可见但未解析完的类
//
// 临时类等到退役后重查类表；他人解析中则在监视器上等待；
// 自己重入解析视为类环。
func (l *Linker) ensureResolved(self *rt.Thread, descriptor string, klass *Class) (*Class, error) {
	// 环检测先行：本线程正在解析的类再次出现，等待只会死等
	if !klass.IsResolved() && !klass.IsErroneous() && klass.ClinitThreadID() == self.ID() {
		m := klass.monitor
		m.Lock(self)
		if !klass.IsResolved() && !klass.IsErroneous() {
			err := lerr.Newf(lerr.KindClassCircularity, "circular dependency on %s", klass.PrettyName())
			klass.SetErrorStatus(err)
			m.Unlock(self)
			return nil, err
		}
		m.Unlock(self)
	}

	// 临时类必须等它退役
	if l.initDone && klass.IsTemp() {
		if klass.IsErroneous() {
			return nil, l.earlierClassFailure(klass)
		}
		m := klass.monitor
		m.Lock(self)
		for !klass.IsRetired() && !klass.IsErroneous() {
			m.WaitIgnoringInterrupts(self)
		}
		erroneous := klass.IsErroneous()
		m.Unlock(self)
		if erroneous {
			return nil, l.earlierClassFailure(klass)
		}
		// 从类表拿替换后的终态类
		klass = l.LookupClass(descriptor, ComputeModifiedUtf8Hash(descriptor), klass.loader)
		if klass == nil {
			return nil, lerr.Newf(lerr.KindInternal,
				"retired class %s has no replacement", descriptor)
		}
	}

	// 未链接完则等待
	if !klass.IsResolved() && !klass.IsErroneous() {
		m := klass.monitor
		m.Lock(self)
		if !klass.IsResolved() && klass.ClinitThreadID() == self.ID() {
			err := lerr.Newf(lerr.KindClassCircularity, "circular dependency on %s", klass.PrettyName())
			klass.SetErrorStatus(err)
			m.Unlock(self)
			return nil, err
		}
		for !klass.IsResolved() && !klass.IsErroneous() {
			m.WaitIgnoringInterrupts(self)
		}
		m.Unlock(self)
	}

	if klass.IsErroneous() {
		return nil, l.earlierClassFailure(klass)
	}
	return klass, nil
}

// ============================================================================
// 类定义
// ============================================================================

// computeClassSize 类对象大小：基座 + 嵌入表 + 静态区
func computeClassSize(hasEmbedded bool, vtableLen int, numRefS, num64, num32, num16, num8 uint32) uint32 {
	size := uint32(kClassBaseSize)
	if hasEmbedded {
		size += kIMTSize*kPointerSize + uint32(vtableLen)*kPointerSize
	}
	size += numRefS * kHeapReferenceSize
	size += num64 * 8
	size += num32 * 4
	size += num16 * 2
	size += num8
	return size
}

// staticBuckets 静态字段按宽度分桶计数
func staticBuckets(f *container.File, def *container.ClassDef) (numRef, num64, num32, num16, num8 uint32) {
	for _, ef := range def.StaticFields {
		desc := f.FieldTypeDescriptor(ef.FieldIdx)
		switch container.FieldSizeForDescriptor(desc) {
		case 8:
			if len(desc) == 1 {
				num64++
			} else {
				numRef++
			}
		case 4:
			num32++
		case 2:
			num16++
		case 1:
			num8++
		}
	}
	return
}

// sizeOfClassWithoutEmbeddedTables 定义期的初始类对象尺寸
//
// 接口最终也没有嵌入表，这个尺寸就是对的；普通类在链接完成时
// 换成含嵌入表的正确尺寸（临时类退役）。
func (l *Linker) sizeOfClassWithoutEmbeddedTables(f *container.File, def *container.ClassDef) uint32 {
	numRef, num64, num32, num16, num8 := staticBuckets(f, def)
	return computeClassSize(false, 0, numRef, num64, num32, num16, num8)
}

// setupClass 挂容器信息，进入 Idx 状态
func (l *Linker) setupClass(f *container.File, defIdx int32, def *container.ClassDef, klass *Class, loader *ClassLoader) {
	klass.file = f
	klass.classDefIdx = defIdx
	klass.accessFlags = def.AccessFlags
	klass.loader = loader
	if l.initDone || klass.objClass == nil {
		klass.objClass = l.classRoots[kJavaLangClass]
	}
	klass.SetStatus(StatusIdx)
}

// DefineClass 从容器定义一个类
func (l *Linker) DefineClass(self *rt.Thread, descriptor string, hash uint32, loader *ClassLoader, f *container.File, defIdx int32) (*Class, error) {
	def := f.ClassDef(defIdx)
	if def == nil {
		return nil, lerr.Newf(lerr.KindClassFormat, "bad class def index %d in %s", defIdx, f.Location())
	}

	var klass *Class
	if !l.initDone {
		// 引导期补完手搓的类根
		switch descriptor {
		case "Ljava/lang/Object;":
			klass = l.classRoots[kJavaLangObject]
		case "Ljava/lang/Class;":
			klass = l.classRoots[kJavaLangClass]
		case "Ljava/lang/String;":
			klass = l.classRoots[kJavaLangString]
		case "Ljava/lang/ref/Reference;":
			klass = l.classRoots[kJavaLangRefReference]
		}
	}
	if klass == nil {
		// 先按不含嵌入表的尺寸分配；接口在这里就是终态尺寸，
		// 普通类链接完成时按正确尺寸替换
		klass = newClass(descriptor, l.sizeOfClassWithoutEmbeddedTables(f, def))
	}

	klass.dexCache = l.RegisterContainer(f)
	l.setupClass(f, defIdx, def, klass, loader)
	if !l.initDone && descriptor == "Ljava/lang/String;" {
		klass.SetStringClass()
	}

	m := klass.monitor
	m.Lock(self)
	defer m.Unlock(self)
	klass.SetClinitThreadID(self.ID())

	// 先发布再加载成员：字段/方法根只从类表可达
	if existing := l.InsertClass(descriptor, klass, hash); existing != nil {
		// 竞争失败，等胜者
		return l.ensureResolved(self, descriptor, existing)
	}

	if err := l.loadClassMembers(self, klass, f, def); err != nil {
		if !klass.IsErroneous() {
			klass.SetErrorStatus(err)
		}
		return nil, err
	}

	if err := l.loadSuperAndInterfaces(self, klass); err != nil {
		if !klass.IsErroneous() {
			klass.SetErrorStatus(err)
		}
		return nil, err
	}

	newClass, err := l.LinkClass(self, descriptor, klass, nil)
	if err != nil {
		if !klass.IsErroneous() {
			klass.SetErrorStatus(err)
		}
		return nil, err
	}
	l.log.Debug("defined class",
		zap.String("class", descriptor),
		zap.String("location", f.Location()))
	return newClass, nil
}

// ============================================================================
// 成员加载
// ============================================================================

// dedupeFields 容器容忍重复的字段条目，这里忽略
func dedupeFields(in []container.EncodedField) []container.EncodedField {
	out := in[:0:0]
	last := container.NoIndex
	for _, ef := range in {
		if ef.FieldIdx == last {
			continue
		}
		last = ef.FieldIdx
		out = append(out, ef)
	}
	return out
}

// dedupeMethods 容器容忍重复的方法条目，这里忽略
func dedupeMethods(in []container.EncodedMethod) []container.EncodedMethod {
	out := in[:0:0]
	last := container.NoIndex
	for _, em := range in {
		if em.MethodIdx == last {
			continue
		}
		last = em.MethodIdx
		out = append(out, em)
	}
	return out
}

// loadField 填充字段描述结构
func (l *Linker) loadField(f *container.File, ef container.EncodedField, klass *Class, dst *ArtField, slot int32) error {
	if _, ok := f.FieldID(ef.FieldIdx); !ok {
		return lerr.Newf(lerr.KindClassFormat, "bad field index %d in %s", ef.FieldIdx, f.Location())
	}
	dst.declaringClass = klass
	dst.accessFlags = ef.AccessFlags
	dst.dexFieldIndex = ef.FieldIdx
	dst.name = f.FieldName(ef.FieldIdx)
	dst.typeDescriptor = f.FieldTypeDescriptor(ef.FieldIdx)
	dst.slotIndex = slot
	return nil
}

// loadMethod 填充方法描述结构
func (l *Linker) loadMethod(f *container.File, em container.EncodedMethod, klass *Class, dst *ArtMethod) error {
	if _, ok := f.MethodID(em.MethodIdx); !ok {
		return lerr.Newf(lerr.KindClassFormat, "bad method index %d in %s", em.MethodIdx, f.Location())
	}
	name := f.MethodName(em.MethodIdx)
	dst.declaringClass = klass
	dst.accessFlags = em.AccessFlags
	dst.dexMethodIndex = em.MethodIdx
	dst.name = name
	dst.signature = f.MethodSignature(em.MethodIdx)
	dst.shorty = f.MethodShorty(em.MethodIdx)
	dst.codeItem = em.Code

	switch name {
	case "<init>", "<clinit>":
		dst.accessFlags |= container.AccConstructor
	case "finalize":
		// 覆盖了 finalize 的类可终结；根对象类自身的空实现除外
		if dst.signature == "()V" && klass.descriptor != "Ljava/lang/Object;" {
			klass.SetFinalizable()
		}
	}
	return nil
}

// loadClassMembers 加载字段与方法数组
//
// 数组装入类对象之前不允许挂起，保证根扫描看到的类是一致的。
func (l *Linker) loadClassMembers(self *rt.Thread, klass *Class, f *container.File, def *container.ClassDef) error {
	alloc := l.allocatorForLoader(klass.loader)

	self.StartAssertNoThreadSuspension()
	defer self.EndAssertNoThreadSuspension()

	sfields := dedupeFields(def.StaticFields)
	klass.sfields = alloc.AllocFieldArray(len(sfields))
	for i, ef := range sfields {
		if err := l.loadField(f, ef, klass, &klass.sfields[i], int32(i)); err != nil {
			return err
		}
	}
	klass.staticSlots = make([]rt.Value, len(sfields))

	ifields := dedupeFields(def.InstanceFields)
	klass.ifields = alloc.AllocFieldArray(len(ifields))
	for i, ef := range ifields {
		if err := l.loadField(f, ef, klass, &klass.ifields[i], -1); err != nil {
			return err
		}
	}

	directs := dedupeMethods(def.DirectMethods)
	klass.directMethods = alloc.AllocMethodArray(len(directs))
	for i, em := range directs {
		dst := &klass.directMethods[i]
		if err := l.loadMethod(f, em, klass, dst); err != nil {
			return err
		}
		l.linkCode(dst)
	}

	virtuals := dedupeMethods(def.VirtualMethods)
	klass.virtualMethods = alloc.AllocMethodArray(len(virtuals))
	for i, em := range virtuals {
		dst := &klass.virtualMethods[i]
		if err := l.loadMethod(f, em, klass, dst); err != nil {
			return err
		}
		l.linkCode(dst)
	}
	return nil
}

// ============================================================================
// 父类与接口加载
// ============================================================================

// loadSuperAndInterfaces 解析父类与直接接口，进入 Loaded 状态
func (l *Linker) loadSuperAndInterfaces(self *rt.Thread, klass *Class) error {
	if klass.Status() != StatusIdx {
		return lerr.Newf(lerr.KindInternal, "load super on %s in state %s", klass.PrettyName(), klass.Status())
	}
	f := klass.file
	def := klass.ClassDef()
	if def.SuperclassIdx != container.NoIndex {
		super, err := l.ResolveType(self, f, def.SuperclassIdx, klass)
		if err != nil {
			return err
		}
		if !klass.CanAccess(super) {
			return lerr.Newf(lerr.KindIllegalAccess,
				"class %s extended by class %s is inaccessible",
				super.PrettyName(), klass.PrettyName())
		}
		klass.SetSuperClass(super)
	}
	klass.directInterfaces = klass.directInterfaces[:0]
	for _, idx := range def.InterfaceIdxs {
		iface, err := l.ResolveType(self, f, idx, klass)
		if err != nil {
			return err
		}
		if !klass.CanAccess(iface) {
			return lerr.Newf(lerr.KindIllegalAccess,
				"interface %s implemented by class %s is inaccessible",
				iface.PrettyName(), klass.PrettyName())
		}
		klass.directInterfaces = append(klass.directInterfaces, iface)
	}
	klass.SetStatus(StatusLoaded)
	return nil
}
