package linker

import "sync"

// ============================================================================
// 每加载器线性分配器
// ============================================================================
//
// 方法、字段描述结构和解析缓存数组都从所属加载器的线性分配器取块。
//
// 设计目标：
// - 结构地址稳定：声明类回指针在退役窗口更新，要求块不搬迁
// - 只增不减：单个分配从不释放，整个分配器随加载器卸载一次性销毁
// - 批量取块：按块预留，降低小对象分配频率
//
// ============================================================================

// 每块预留的方法/字段槽数
const allocChunkSize = 128

// LinearAlloc 线性分配器
type LinearAlloc struct {
	mu sync.Mutex

	methodChunks [][]ArtMethod
	methodOff    int
	fieldChunks  [][]ArtField
	fieldOff     int

	allocated int // 已交出的槽位计数（统计用）
	freed     bool
}

// NewLinearAlloc 创建分配器
func NewLinearAlloc() *LinearAlloc {
	return &LinearAlloc{}
}

// AllocMethodArray 取一段长度为 n 的方法数组
//
// 返回的切片底层存储永不搬迁；n 为 0 返回 nil。
func (a *LinearAlloc) AllocMethodArray(n int) []ArtMethod {
	if n == 0 {
		return nil
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.freed {
		panic("allocation from destroyed LinearAlloc")
	}
	if len(a.methodChunks) == 0 || a.methodOff+n > len(a.methodChunks[len(a.methodChunks)-1]) {
		size := allocChunkSize
		if n > size {
			size = n
		}
		a.methodChunks = append(a.methodChunks, make([]ArtMethod, size))
		a.methodOff = 0
	}
	chunk := a.methodChunks[len(a.methodChunks)-1]
	out := chunk[a.methodOff : a.methodOff+n : a.methodOff+n]
	a.methodOff += n
	a.allocated += n
	return out
}

// AllocFieldArray 取一段长度为 n 的字段数组
func (a *LinearAlloc) AllocFieldArray(n int) []ArtField {
	if n == 0 {
		return nil
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.freed {
		panic("allocation from destroyed LinearAlloc")
	}
	if len(a.fieldChunks) == 0 || a.fieldOff+n > len(a.fieldChunks[len(a.fieldChunks)-1]) {
		size := allocChunkSize
		if n > size {
			size = n
		}
		a.fieldChunks = append(a.fieldChunks, make([]ArtField, size))
		a.fieldOff = 0
	}
	chunk := a.fieldChunks[len(a.fieldChunks)-1]
	out := chunk[a.fieldOff : a.fieldOff+n : a.fieldOff+n]
	a.fieldOff += n
	a.allocated += n
	return out
}

// ReallocMethodArray 扩展一段方法数组
//
// 旧存储不回收（线性分配器没有逐个释放）；内容拷贝到新段。
func (a *LinearAlloc) ReallocMethodArray(old []ArtMethod, n int) []ArtMethod {
	out := a.AllocMethodArray(n)
	copy(out, old)
	return out
}

// Free 销毁分配器
//
// 只在所属加载器的弱引用被清除、cleanup 执行时调用。
func (a *LinearAlloc) Free() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.methodChunks = nil
	a.fieldChunks = nil
	a.freed = true
}

// AllocStats 分配统计
type AllocStats struct {
	MethodChunks int
	FieldChunks  int
	Allocated    int
}

// Stats 取统计信息（调试用）
func (a *LinearAlloc) Stats() AllocStats {
	a.mu.Lock()
	defer a.mu.Unlock()
	return AllocStats{
		MethodChunks: len(a.methodChunks),
		FieldChunks:  len(a.fieldChunks),
		Allocated:    a.allocated,
	}
}
