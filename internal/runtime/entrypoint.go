package runtime

// ============================================================================
// 方法入口点
// ============================================================================

// CodeStub 一段可执行代码的句柄
//
// 真实运行时里这是机器码地址；这里用带名字的指针表达，
// 入口点比较以指针同一性为准。
type CodeStub struct {
	Name string // 桩名称（日志用）
}

// Entrypoint 方法当前的快速入口点
type Entrypoint = *CodeStub

// NewCodeStub 创建代码桩
func NewCodeStub(name string) *CodeStub {
	return &CodeStub{Name: name}
}

// Trampolines 运行时蹦床集合
//
// 没有镜像时使用进程内置的桩；采纳镜像时整组替换为镜像头里的指针。
type Trampolines struct {
	Resolution    Entrypoint // 解析蹦床（静态方法类初始化前）
	IMTConflict   Entrypoint // IMT 冲突槽的慢路径
	GenericNative Entrypoint // 无 AOT 代码的 native 方法通用桩
	ToInterpreter Entrypoint // 解释器桥
	ProxyInvoke   Entrypoint // 代理方法调用处理器
}

// DefaultTrampolines 进程内置蹦床
func DefaultTrampolines() Trampolines {
	return Trampolines{
		Resolution:    NewCodeStub("quick_resolution_trampoline"),
		IMTConflict:   NewCodeStub("quick_imt_conflict_trampoline"),
		GenericNative: NewCodeStub("quick_generic_native_stub"),
		ToInterpreter: NewCodeStub("quick_to_interpreter_bridge"),
		ProxyInvoke:   NewCodeStub("quick_proxy_invoke_handler"),
	}
}
