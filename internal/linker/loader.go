package linker

import (
	"go.uber.org/atomic"

	"github.com/tangzhangming/solar/internal/container"
)

// ============================================================================
// 类加载器
// ============================================================================

// ClassLoader 托管侧的类加载器对象
//
// 引导加载器用 nil 表达；用户加载器包装一组容器并委派父加载器。
// 链接器弱持有：GC 清除弱根后 cleanup 销毁其类表与分配器。
type ClassLoader struct {
	parent     *ClassLoader
	containers []*container.File

	table *ClassTable
	alloc *LinearAlloc

	// weakCleared GC 在加载器对象不可达时置位
	weakCleared atomic.Bool
}

// Parent 父加载器；nil 表示委派到引导加载器
func (l *ClassLoader) Parent() *ClassLoader { return l.parent }

// Containers 本加载器声明的容器
func (l *ClassLoader) Containers() []*container.File { return l.containers }

// Table 本加载器的类表
func (l *ClassLoader) Table() *ClassTable { return l.table }

// Alloc 本加载器的线性分配器
func (l *ClassLoader) Alloc() *LinearAlloc { return l.alloc }

// ClearWeakRoot GC 判定加载器不可达后调用
func (l *ClassLoader) ClearWeakRoot() { l.weakCleared.Store(true) }

// WeakRootCleared 弱根是否已被清除
func (l *ClassLoader) WeakRootCleared() bool { return l.weakCleared.Load() }
