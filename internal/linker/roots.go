package linker

import (
	"go.uber.org/multierr"
	"go.uber.org/zap"

	lerr "github.com/tangzhangming/solar/internal/errors"
)

// ============================================================================
// 根枚举与加载器回收
// ============================================================================

// VisitRootFlags 根访问标志集
type VisitRootFlags uint32

const (
	VisitRootFlagAllRoots VisitRootFlags = 1 << iota
	VisitRootFlagNewRoots
	VisitRootFlagClearRootLog
	VisitRootFlagStartLoggingNewRoots
	VisitRootFlagStopLoggingNewRoots
)

// RootVisitor GC 提供的根访问回调
type RootVisitor func(klass *Class)

// VisitClassRoots 访问类表根
//
// 持类加载器写锁整段执行。AllRoots 全量走引导类表；
// NewRoots 只走新增类根日志；其余标志控制日志开关与清空。
func (l *Linker) VisitClassRoots(visitor RootVisitor, flags VisitRootFlags) {
	l.classLoadersLock.Lock()
	defer l.classLoadersLock.Unlock()

	if flags&VisitRootFlagAllRoots != 0 {
		l.bootTable.Visit(func(c *Class) bool {
			visitor(c)
			return true
		})
	} else if flags&VisitRootFlagNewRoots != 0 {
		for _, c := range l.newClassRoots {
			visitor(c)
		}
	}
	if flags&VisitRootFlagClearRootLog != 0 {
		l.newClassRoots = l.newClassRoots[:0]
	}
	if flags&VisitRootFlagStartLoggingNewRoots != 0 {
		l.logNewRoots = true
	} else if flags&VisitRootFlagStopLoggingNewRoots != 0 {
		l.logNewRoots = false
	}
}

// VisitRoots 访问链接器持有的全部强根
func (l *Linker) VisitRoots(visitor RootVisitor, flags VisitRootFlags) {
	for _, c := range l.classRoots {
		if c != nil {
			visitor(c)
		}
	}
	l.VisitClassRoots(visitor, flags)
	if l.arrayIfTable != nil {
		for i := 0; i < l.arrayIfTable.Count(); i++ {
			if iface := l.arrayIfTable.Interface(i); iface != nil {
				visitor(iface)
			}
		}
	}
	// 数组快速缓存不当根：留着会挡住加载器卸载，清掉即可
	l.dropFindArrayClassCache()
}

// dropFindArrayClassCache 清空数组类快速缓存
func (l *Linker) dropFindArrayClassCache() {
	for i := 0; i < kFindArrayCacheSize; i++ {
		l.findArrayClassCache[i].Store(nil)
	}
}

// VisitClasses 遍历所有加载器的所有类；visitor 返回 false 提前终止
func (l *Linker) VisitClasses(visitor func(*Class) bool) {
	l.classLoadersLock.RLock()
	defer l.classLoadersLock.RUnlock()
	if !l.bootTable.Visit(visitor) {
		return
	}
	for _, loader := range l.loaders {
		if !loader.table.Visit(visitor) {
			return
		}
	}
}

// ============================================================================
// 加载器清理
// ============================================================================

// CleanupClassLoaders 回收弱根已被清除的加载器
//
// 销毁它的类表与线性分配器；表里残留别人加载器的类视为内部错误。
func (l *Linker) CleanupClassLoaders() error {
	l.classLoadersLock.Lock()
	defer l.classLoadersLock.Unlock()

	var errs error
	kept := l.loaders[:0]
	for _, loader := range l.loaders {
		if !loader.WeakRootCleared() {
			kept = append(kept, loader)
			continue
		}
		loader.table.Visit(func(c *Class) bool {
			if c.loader != loader {
				errs = multierr.Append(errs, lerr.Newf(lerr.KindInternal,
					"class %s owned by foreign loader found during cleanup", c.PrettyName()))
			}
			return true
		})
		loader.alloc.Free()
		loader.table = nil
		l.log.Debug("destroyed class loader",
			zap.Int("containers", len(loader.containers)))
	}
	l.loaders = kept
	return errs
}

// NumClassLoaders 仍然存活的用户加载器数
func (l *Linker) NumClassLoaders() int {
	l.classLoadersLock.RLock()
	defer l.classLoadersLock.RUnlock()
	return len(l.loaders)
}

// MoveClassTableToPreZygote 冻结引导类表快照
//
// 孵化器 fork 前调用；此后的插入进入新生代。
func (l *Linker) MoveClassTableToPreZygote() {
	l.classLoadersLock.Lock()
	defer l.classLoadersLock.Unlock()
	l.bootTable.FreezeSnapshot()
	for _, loader := range l.loaders {
		loader.table.FreezeSnapshot()
	}
}
