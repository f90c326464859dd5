package linker

import (
	rt "github.com/tangzhangming/solar/internal/runtime"
)

// ============================================================================
// 入口点策略
// ============================================================================
//
// 每个方法在链接时和类初始化完成时各走一次策略：
//
//	抽象方法                          → 解释器桥
//	native、无 AOT 代码              → 通用 native 桩
//	native、有 AOT 代码              → AOT 代码
//	静态非构造器、类未初始化          → 解析蹦床
//	纯解释模式                        → 解释器桥（native 仍走通用桩）
//	普通方法、有 AOT 代码            → AOT 代码
//	普通方法、无 AOT 代码            → 解释器桥
//
// ============================================================================

// quickCodeFor 镜像里该方法的 AOT 代码；没有（或被禁用）返回 nil
func (l *Linker) quickCodeFor(m *ArtMethod) rt.Entrypoint {
	if l.imageFile == nil || l.imageCodeDisabled {
		return nil
	}
	if m.declaringClass == nil || m.declaringClass.file == nil {
		return nil
	}
	return l.imageFile.CodeFor(m.declaringClass.file, m.dexMethodIndex)
}

// shouldUseInterpreterEntrypoint 该方法是否必须经解释器进入
func (l *Linker) shouldUseInterpreterEntrypoint(m *ArtMethod, quickCode rt.Entrypoint) bool {
	if quickCode == nil {
		return true
	}
	return l.cfg.Runtime.InterpretOnly && !m.IsNative() && !m.IsProxyMethod()
}

// linkCode 链接时选一次入口点
func (l *Linker) linkCode(m *ArtMethod) {
	if l.cfg.Runtime.AotCompiler {
		// 编译器进程不执行代码，不装入口点
		return
	}
	quickCode := l.quickCodeFor(m)

	if m.IsAbstract() {
		m.SetEntrypoint(l.tramps.ToInterpreter)
		return
	}
	if m.IsStatic() && !m.IsConstructor() {
		// 静态方法（<clinit> 除外）先挂解析蹦床，
		// 类初始化完成后 FixupStaticTrampolines 换成真实目标
		m.SetEntrypoint(l.tramps.Resolution)
		return
	}
	if l.shouldUseInterpreterEntrypoint(m, quickCode) {
		if m.IsNative() {
			m.SetEntrypoint(l.tramps.GenericNative)
		} else {
			m.SetEntrypoint(l.tramps.ToInterpreter)
		}
		return
	}
	m.SetEntrypoint(quickCode)
}

// FixupStaticTrampolines 类初始化完成后为静态方法重跑策略
//
// 调用方持有类监视器，且类已是 Initialized。
func (l *Linker) FixupStaticTrampolines(klass *Class) {
	if !klass.IsInitialized() {
		return
	}
	if klass.NumDirectMethods() == 0 {
		// 没有直接方法就没有静态方法
		return
	}
	if l.cfg.Runtime.AotCompiler {
		return
	}
	for i := 0; i < klass.NumDirectMethods(); i++ {
		m := klass.DirectMethod(i)
		if !m.IsStatic() || m.IsConstructor() {
			continue
		}
		quickCode := l.quickCodeFor(m)
		if l.shouldUseInterpreterEntrypoint(m, quickCode) {
			if m.IsNative() {
				quickCode = l.tramps.GenericNative
			} else {
				quickCode = l.tramps.ToInterpreter
			}
		}
		m.SetEntrypoint(quickCode)
	}
}
