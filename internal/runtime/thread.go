package runtime

import (
	"go.uber.org/atomic"
)

// ============================================================================
// 线程标识
// ============================================================================

// 全局线程 id 分配器；0 保留表示"无人持有"
var nextThreadID = atomic.NewInt64(0)

// Thread 访问链接器的执行线程
//
// 链接器的所有阻塞操作都显式传入调用方的 Thread，用于：
//   - 记录类初始化的持有线程（环检测）
//   - 在安全点检查挂起请求
//
// 每个 OS 线程（或测试中的 goroutine）使用独立的 Thread。
type Thread struct {
	id int64

	// noSuspendDepth 断言区域嵌套深度；非零时不允许出现挂起点
	noSuspendDepth int

	// suspendCheck 安全点回调；GC 挂起协议由外部提供
	suspendCheck func()
}

// NewThread 创建线程标识
func NewThread() *Thread {
	return &Thread{id: nextThreadID.Inc()}
}

// ID 线程 id（进程内唯一，非零）
func (t *Thread) ID() int64 { return t.id }

// SetSuspendCheck 安装安全点回调
func (t *Thread) SetSuspendCheck(fn func()) { t.suspendCheck = fn }

// AllowThreadSuspension 安全点：若外部安装了回调且不在禁止挂起区域内，
// 给 GC 一次挂起本线程的机会
func (t *Thread) AllowThreadSuspension() {
	if t.noSuspendDepth == 0 && t.suspendCheck != nil {
		t.suspendCheck()
	}
}

// StartAssertNoThreadSuspension 进入禁止挂起区域
//
// 字段/方法数组构建期间内部引用尚未从根可达，期间不允许任何挂起点。
func (t *Thread) StartAssertNoThreadSuspension() {
	t.noSuspendDepth++
}

// EndAssertNoThreadSuspension 离开禁止挂起区域
func (t *Thread) EndAssertNoThreadSuspension() {
	if t.noSuspendDepth == 0 {
		panic("unbalanced EndAssertNoThreadSuspension")
	}
	t.noSuspendDepth--
}
