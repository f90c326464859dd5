package linker

import (
	"strings"
	"time"

	"go.uber.org/zap"

	lerr "github.com/tangzhangming/solar/internal/errors"
	rt "github.com/tangzhangming/solar/internal/runtime"
)

// ============================================================================
// 校验门控
// ============================================================================

// ensurePreverifiedMethods 校验通过后给所有方法打预校验标记
func (l *Linker) ensurePreverifiedMethods(klass *Class) {
	if klass.IsPreverified() {
		return
	}
	for i := 0; i < klass.NumDirectMethods(); i++ {
		m := klass.DirectMethod(i)
		m.accessFlags |= AccPreverified
	}
	for i := 0; i < klass.NumVirtualMethods(); i++ {
		m := klass.VirtualMethod(i)
		m.accessFlags |= AccPreverified
	}
	klass.SetPreverified()
}

// verifyUsingImage 镜像预校验探针
func (l *Linker) verifyUsingImage(klass *Class) bool {
	return l.imageFile != nil && l.imageFile.IsPreverified(klass.descriptor)
}

// resolveExceptionHandlerTypes 把 catch 块引用的类型都解析出来
//
// 校验通过之后做；解析不到的处理器类型留给首次抛出时再报。
func (l *Linker) resolveExceptionHandlerTypes(self *rt.Thread, klass *Class) {
	resolveFor := func(m *ArtMethod) {
		if m.codeItem == nil {
			return
		}
		for _, try := range m.codeItem.Tries {
			for _, typeIdx := range try.HandlerTypeIdxs {
				if _, err := l.ResolveType(self, klass.file, typeIdx, klass); err != nil {
					l.log.Debug("unresolved catch handler type",
						zap.String("class", klass.PrettyName()),
						zap.String("method", m.name),
						zap.Error(err))
				}
			}
		}
	}
	for i := 0; i < klass.NumDirectMethods(); i++ {
		resolveFor(klass.DirectMethod(i))
	}
	for i := 0; i < klass.NumVirtualMethods(); i++ {
		resolveFor(klass.VirtualMethod(i))
	}
}

// VerifyClass 驱动一个类走完校验状态
//
// 结束时类处于 Verified、RetryVerificationAtRuntime 或 Error。
func (l *Linker) VerifyClass(self *rt.Thread, klass *Class) error {
	m := klass.monitor
	m.Lock(self)
	defer m.Unlock(self)

	if klass.IsVerified() {
		l.ensurePreverifiedMethods(klass)
		return nil
	}
	if klass.IsCompileTimeVerified() && l.cfg.Runtime.AotCompiler {
		return nil
	}
	if klass.IsErroneous() {
		// 父类校验途中就可能发现本类已经坏了
		return l.earlierClassFailure(klass)
	}

	switch klass.Status() {
	case StatusResolved:
		klass.SetStatus(StatusVerifying)
	case StatusRetryVerificationAtRuntime:
		if l.cfg.Runtime.AotCompiler {
			return lerr.Newf(lerr.KindInternal, "retry verification inside compiler")
		}
		klass.SetStatus(StatusVerifyingAtRuntime)
	default:
		return lerr.Newf(lerr.KindInternal,
			"verify on %s in state %s", klass.PrettyName(), klass.Status())
	}

	// 强制软失败：假装校验通过，但方法不得打预校验标记
	if l.cfg.Verify.ForceSoftFail {
		klass.SetStatus(StatusVerified)
		klass.SetPreverified()
		return nil
	}
	if !l.cfg.Verify.Enabled {
		klass.SetStatus(StatusVerified)
		l.ensurePreverifiedMethods(klass)
		return nil
	}

	// 父类先行
	super := klass.super
	if super != nil {
		sm := super.monitor
		sm.Lock(self)
		if !super.IsVerified() && !super.IsErroneous() {
			if err := l.VerifyClass(self, super); err != nil {
				l.log.Debug("super verification failed", zap.Error(err))
			}
		}
		superOK := super.IsCompileTimeVerified()
		sm.Unlock(self)
		if !superOK {
			err := lerr.Wrapf(lerr.KindVerify, super.StoredError(),
				"rejecting class %s that attempts to sub-class erroneous class %s",
				klass.PrettyName(), super.PrettyName())
			l.log.Warn("rejecting subclass of erroneous class",
				zap.String("class", klass.PrettyName()),
				zap.String("super", super.PrettyName()))
			klass.SetErrorStatus(err)
			return err
		}
	}

	// 镜像里预校验过就不再跑校验器
	preverified := l.verifyUsingImage(klass)
	result := VerifyNoFailure
	failureMsg := ""
	if !preverified {
		result, failureMsg = l.verifier.VerifyClass(self, klass)
	}

	if !preverified && result == VerifyHardFailure {
		l.log.Warn("verification failed",
			zap.String("class", klass.PrettyName()),
			zap.String("reason", failureMsg))
		err := lerr.Newf(lerr.KindVerify, "verification of %s failed: %s", klass.PrettyName(), failureMsg)
		klass.SetErrorStatus(err)
		return err
	}

	if !preverified && result == VerifySoftFailure {
		l.log.Debug("soft verification failure",
			zap.String("class", klass.PrettyName()),
			zap.String("reason", failureMsg))
	}

	// catch 处理器引用的类型此时解析
	l.resolveExceptionHandlerTypes(self, klass)

	if result == VerifyNoFailure {
		if super == nil || super.IsVerified() {
			klass.SetStatus(StatusVerified)
		} else {
			// 父类等运行期重验，本类也只能跟着等
			if super.Status() != StatusRetryVerificationAtRuntime {
				return lerr.Newf(lerr.KindInternal, "unexpected super status %s", super.Status())
			}
			klass.SetStatus(StatusRetryVerificationAtRuntime)
			result = VerifySoftFailure
		}
	} else {
		if l.cfg.Runtime.AotCompiler {
			klass.SetStatus(StatusRetryVerificationAtRuntime)
		} else {
			// 运行期软失败由生成代码里的慢路径兜底
			klass.SetStatus(StatusVerified)
			klass.SetPreverified()
		}
	}

	if preverified || result == VerifyNoFailure {
		l.ensurePreverifiedMethods(klass)
	}
	return nil
}

// ============================================================================
// 初始化
// ============================================================================

// canWeInitializeClass 初始化前置条件的快速失败
func (l *Linker) canWeInitializeClass(klass *Class, canInitStatics, canInitParents bool) bool {
	if canInitStatics && canInitParents {
		return true
	}
	if !canInitStatics {
		if klass.FindClassInitializer() != nil {
			return false
		}
		if klass.NumStaticFields() != 0 {
			if def := klass.ClassDef(); def != nil && len(def.StaticValues) != 0 {
				return false
			}
		}
		if !klass.IsInterface() {
			t := klass.ifTable
			for i := 0; i < t.Count(); i++ {
				iface := t.Interface(i)
				if iface.HasDefaultMethods() &&
					!l.canWeInitializeClass(iface, canInitStatics, canInitParents) {
					return false
				}
			}
		}
	}
	if klass.IsInterface() || klass.super == nil {
		return true
	}
	super := klass.super
	if !canInitParents && !super.IsInitialized() {
		return false
	}
	return l.canWeInitializeClass(super, canInitStatics, canInitParents)
}

// wrapInitializerException <clinit> 抛出的非链接错误统一包装
func wrapInitializerException(klass *Class, err error) error {
	if lerr.KindOf(err) != lerr.KindUnknown {
		// 已是链接器系错误，按原样传播
		return err
	}
	return lerr.Wrapf(lerr.KindExceptionInInitializer, err,
		"exception in static initializer of %s", klass.PrettyName())
}

// waitForInitializeClass 等别的线程完成初始化
func (l *Linker) waitForInitializeClass(klass *Class, self *rt.Thread) (bool, error) {
	m := klass.monitor
	for {
		m.WaitIgnoringInterrupts(self)
		switch {
		case klass.Status() == StatusInitializing:
			continue // 虚假唤醒
		case klass.Status() == StatusVerified && l.cfg.Runtime.AotCompiler:
			// 编译期初始化失败
			return false, nil
		case klass.IsErroneous():
			// 异常在别的线程上抛了，这里重放类上保存的错误
			return false, l.earlierClassFailure(klass)
		case klass.IsInitialized():
			return true, nil
		default:
			return false, lerr.Newf(lerr.KindInternal,
				"unexpected state %s while waiting for initialization of %s",
				klass.Status(), klass.PrettyName())
		}
	}
}

// EnsureInitialized 保证类达到 Initialized（或报告失败）
//
// 返回 (true, nil) 成功；(false, nil) 表示当前约束下不能初始化；
// (false, err) 初始化失败，类进入错误态。
func (l *Linker) EnsureInitialized(self *rt.Thread, klass *Class, canInitStatics, canInitParents bool) (bool, error) {
	if klass.IsInitialized() {
		return true, nil
	}
	return l.initializeClass(self, klass, canInitStatics, canInitParents)
}

// initializeClass 初始化协议主体
func (l *Linker) initializeClass(self *rt.Thread, klass *Class, canInitStatics, canInitParents bool) (bool, error) {
	if klass.IsInitialized() {
		return true, nil
	}
	if !l.canWeInitializeClass(klass, canInitStatics, canInitParents) {
		return false, nil
	}
	self.AllowThreadSuspension()

	var t0 time.Time
	m := klass.monitor
	{
		m.Lock(self)

		// 锁下复查，别的线程可能已经抢先
		if klass.IsInitialized() {
			m.Unlock(self)
			return true, nil
		}
		if klass.IsErroneous() {
			err := l.earlierClassFailure(klass)
			m.Unlock(self)
			return false, err
		}
		if !klass.IsResolved() {
			m.Unlock(self)
			return false, lerr.Newf(lerr.KindInternal,
				"initialize on unresolved class %s (%s)", klass.PrettyName(), klass.Status())
		}

		if !klass.IsVerified() {
			if err := l.VerifyClass(self, klass); err != nil {
				m.Unlock(self)
				return false, err
			}
			if !klass.IsVerified() {
				// 软失败留到运行期重试；编译器进程到此为止
				if klass.Status() != StatusRetryVerificationAtRuntime {
					m.Unlock(self)
					return false, lerr.Newf(lerr.KindInternal,
						"unverified class %s in state %s", klass.PrettyName(), klass.Status())
				}
				m.Unlock(self)
				return false, nil
			}
		}

		// 已在 Initializing：要么是本线程在更高的栈帧里，要么等别人
		if klass.Status() == StatusInitializing {
			if klass.ClinitThreadID() == self.ID() {
				m.Unlock(self)
				return true, nil
			}
			ok, err := l.waitForInitializeClass(klass, self)
			m.Unlock(self)
			return ok, err
		}

		if err := l.validateSuperClassDescriptors(self, klass); err != nil {
			klass.SetErrorStatus(err)
			m.Unlock(self)
			return false, err
		}
		self.AllowThreadSuspension()

		if klass.Status() != StatusVerified {
			m.Unlock(self)
			return false, lerr.Newf(lerr.KindInternal,
				"class %s in state %s before initializing", klass.PrettyName(), klass.Status())
		}

		// 从这里开始别的线程能看到我们在初始化
		klass.SetClinitThreadID(self.ID())
		klass.SetStatus(StatusInitializing)
		t0 = time.Now()
		m.Unlock(self)
	}

	// 父类先初始化（接口除外）
	if !klass.IsInterface() && klass.super != nil {
		super := klass.super
		if !super.IsInitialized() {
			if !canInitParents {
				return false, lerr.Newf(lerr.KindInternal,
					"cannot initialize super of %s", klass.PrettyName())
			}
			ok, err := l.initializeClass(self, super, canInitStatics, true)
			if !ok {
				if err == nil {
					err = lerr.Newf(lerr.KindInternal,
						"super class initialization of %s failed silently", super.PrettyName())
				}
				m.Lock(self)
				klass.SetErrorStatus(err)
				m.Unlock(self)
				return false, err
			}
		}
	}

	// 带默认方法的直接父接口按声明序递归初始化
	if !klass.IsInterface() {
		for _, iface := range klass.directInterfaces {
			if iface.recursivelyInitialized {
				continue
			}
			ok, err := l.initializeDefaultInterfaceRecursive(self, iface, canInitStatics, canInitParents)
			if !ok {
				if err == nil {
					err = lerr.Newf(lerr.KindInternal,
						"default interface initialization of %s failed", iface.PrettyName())
				}
				m.Lock(self)
				klass.SetErrorStatus(err)
				m.Unlock(self)
				return false, err
			}
		}
	}

	// 静态字段：先回填解析缓存，再解码常量初始值
	var clinitErr error
	numStatics := klass.NumStaticFields()
	if numStatics > 0 {
		cache := klass.dexCache
		for i := 0; i < numStatics; i++ {
			field := klass.StaticField(i)
			if cache.ResolvedField(field.dexFieldIndex) == nil {
				cache.SetResolvedField(field.dexFieldIndex, field)
			}
		}
		def := klass.ClassDef()
		if def != nil && len(def.StaticValues) != 0 {
			if !canInitStatics {
				clinitErr = lerr.Newf(lerr.KindInternal,
					"static values of %s need statics initialization", klass.PrettyName())
			} else {
				for i, v := range def.StaticValues {
					if i >= numStatics {
						clinitErr = lerr.Newf(lerr.KindClassFormat,
							"more static values than static fields in %s", klass.PrettyName())
						break
					}
					field, err := l.ResolveField(self, klass.file, def.StaticFields[i].FieldIdx, klass.loader, true)
					if err != nil {
						clinitErr = err
						break
					}
					klass.SetStaticSlot(field.slotIndex, l.decodeStaticValue(klass.file, v))
				}
			}
		}
	}

	// <clinit> 经外部解释器执行
	if clinitErr == nil {
		if clinit := klass.FindClassInitializer(); clinit != nil {
			if !canInitStatics {
				clinitErr = lerr.Newf(lerr.KindInternal,
					"<clinit> of %s needs statics initialization", klass.PrettyName())
			} else {
				clinitErr = l.interp.Invoke(self, clinit)
			}
		}
	}

	self.AllowThreadSuspension()
	elapsed := time.Since(t0)

	m.Lock(self)
	defer m.Unlock(self)
	if clinitErr != nil {
		wrapped := wrapInitializerException(klass, clinitErr)
		klass.SetErrorStatus(wrapped)
		return false, wrapped
	}

	l.classInitCount.Inc()
	l.classInitTimeNs.Add(uint64(elapsed.Nanoseconds()))
	klass.SetStatus(StatusInitialized)
	l.log.Debug("initialized class",
		zap.String("class", klass.PrettyName()),
		zap.Duration("elapsed", elapsed))
	// 顺手把静态方法的解析蹦床换成真实目标
	l.FixupStaticTrampolines(klass)
	return true, nil
}

// initializeDefaultInterfaceRecursive 沿声明序递归初始化默认接口
//
// 只有带默认方法的接口真正走初始化；没有默认方法的接口只打
// recursivelyInitialized 标记，纯粹为了省掉以后的遍历，
// 不代表初始化状态。
func (l *Linker) initializeDefaultInterfaceRecursive(self *rt.Thread, iface *Class, canInitStatics, canInitParents bool) (bool, error) {
	if !iface.IsInterface() {
		return false, lerr.Newf(lerr.KindInternal, "%s is not an interface", iface.PrettyName())
	}
	for _, superIface := range iface.directInterfaces {
		if superIface.recursivelyInitialized {
			continue
		}
		if ok, err := l.initializeDefaultInterfaceRecursive(self, superIface, canInitStatics, canInitParents); !ok {
			return ok, err
		}
	}
	ok := true
	var err error
	if iface.HasDefaultMethods() {
		ok, err = l.EnsureInitialized(self, iface, canInitStatics, canInitParents)
	}
	if ok {
		m := iface.monitor
		m.Lock(self)
		iface.recursivelyInitialized = true
		m.Unlock(self)
	}
	return ok, err
}

// ============================================================================
// 跨加载器签名一致性
// ============================================================================

// parseSignatureTypes 签名 → 参数与返回类型描述符
func parseSignatureTypes(signature string) []string {
	var out []string
	i := 1 // 跳过 '('
	for i < len(signature) {
		if signature[i] == ')' {
			i++
			continue
		}
		start := i
		for signature[i] == '[' {
			i++
		}
		if signature[i] == 'L' {
			end := strings.IndexByte(signature[i:], ';')
			if end < 0 {
				return out
			}
			i += end + 1
		} else {
			i++
		}
		out = append(out, signature[start:i])
	}
	return out
}

// checkSignatureAcrossLoaders 两个加载器看同一签名必须解析出同一组类
func (l *Linker) checkSignatureAcrossLoaders(self *rt.Thread, klass, superKlass *Class, method *ArtMethod) error {
	for _, desc := range parseSignatureTypes(method.signature) {
		if len(desc) == 1 {
			continue // 原始类型不经加载器
		}
		c1, err1 := l.FindClass(self, desc, klass.loader)
		c2, err2 := l.FindClass(self, desc, superKlass.loader)
		if err1 != nil || err2 != nil {
			cause := err1
			if cause == nil {
				cause = err2
			}
			return lerr.Wrapf(lerr.KindLinkage, cause,
				"failed to resolve %s while checking %s.%s across loaders",
				desc, klass.PrettyName(), method.name)
		}
		if c1 != c2 {
			return lerr.Newf(lerr.KindLinkage,
				"class %s method %s%s resolves differently in superclass or interface %s",
				klass.PrettyName(), method.name, method.signature, superKlass.PrettyName())
		}
	}
	return nil
}

// validateSuperClassDescriptors 覆盖与实现关系跨加载器时校验签名漂移
func (l *Linker) validateSuperClassDescriptors(self *rt.Thread, klass *Class) error {
	if klass.IsInterface() {
		return nil
	}
	if super := klass.super; super != nil && klass.loader != super.loader {
		for i := 0; i < len(super.vtable) && i < len(klass.vtable); i++ {
			m := klass.vtable[i]
			if m != super.vtable[i] {
				if err := l.checkSignatureAcrossLoaders(self, klass, super, m); err != nil {
					return err
				}
			}
		}
	}
	t := klass.ifTable
	for i := 0; i < t.Count(); i++ {
		iface := t.Interface(i)
		if klass.loader == iface.loader {
			continue
		}
		methods := t.MethodArray(i)
		for j := range methods {
			if methods[j] != nil && methods[j].declaringClass != iface {
				if err := l.checkSignatureAcrossLoaders(self, klass, iface, methods[j]); err != nil {
					return err
				}
			}
		}
	}
	return nil
}
