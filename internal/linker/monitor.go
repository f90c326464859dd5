package linker

import (
	"sync"

	"go.uber.org/atomic"

	rt "github.com/tangzhangming/solar/internal/runtime"
)

// ============================================================================
// 类监视器
// ============================================================================

// monitor 每类一个的可重入监视器
//
// 定义、校验、初始化和退役窗口都在持有监视器的情况下推进；
// 等待方在监视器上阻塞，状态迁移时被整体唤醒。
// 重入按线程标识记账，等待会完全让出监视器。
type monitor struct {
	mu    sync.Mutex
	cond  *sync.Cond
	owner atomic.Int64 // 持有线程 id；0 表示无人持有
	depth int32        // 重入深度，仅持有线程读写
}

func newMonitor() *monitor {
	m := &monitor{}
	m.cond = sync.NewCond(&m.mu)
	return m
}

// Lock 获取监视器（可重入）
func (m *monitor) Lock(self *rt.Thread) {
	if m.owner.Load() == self.ID() {
		m.depth++
		return
	}
	m.mu.Lock()
	m.owner.Store(self.ID())
	m.depth = 1
}

// Unlock 释放一层持有
func (m *monitor) Unlock(self *rt.Thread) {
	if m.owner.Load() != self.ID() {
		panic("monitor unlocked by non-owner")
	}
	m.depth--
	if m.depth == 0 {
		m.owner.Store(0)
		m.mu.Unlock()
	}
}

// WaitIgnoringInterrupts 在监视器上等待
//
// 初始化必须完成，即便调用方已被中断；中断由调用方在类安全后自行补投。
// 等待期间完全让出持有（包括重入层数），唤醒后恢复。
func (m *monitor) WaitIgnoringInterrupts(self *rt.Thread) {
	if m.owner.Load() != self.ID() {
		panic("monitor wait by non-owner")
	}
	saved := m.depth
	m.depth = 0
	m.owner.Store(0)
	m.cond.Wait()
	m.owner.Store(self.ID())
	m.depth = saved
}

// NotifyAll 唤醒全部等待方
//
// 状态字已经先行写入，Broadcast 不要求持有互斥量。
func (m *monitor) NotifyAll() {
	m.cond.Broadcast()
}
