package linker

import (
	"sync/atomic"

	"github.com/tangzhangming/solar/internal/container"
)

// ============================================================================
// 每容器解析缓存
// ============================================================================

// DexCache 容器索引 → 已解析实体的缓存
//
// 槽位是宽松原子的：多个线程可以并发解析同一个索引，后写者以相同值
// 覆盖。槽位一旦非空，在容器生命周期内保持稳定。没有逐出。
type DexCache struct {
	file     *container.File
	location string

	strings []atomic.Pointer[string]
	types   []atomic.Pointer[Class]
	methods []atomic.Pointer[ArtMethod]
	fields  []atomic.Pointer[ArtField]
}

// NewDexCache 按容器的索引空间尺寸分配缓存
func NewDexCache(f *container.File) *DexCache {
	return &DexCache{
		file:     f,
		location: f.Location(),
		strings:  make([]atomic.Pointer[string], f.NumStrings()),
		types:    make([]atomic.Pointer[Class], f.NumTypes()),
		methods:  make([]atomic.Pointer[ArtMethod], f.NumMethods()),
		fields:   make([]atomic.Pointer[ArtField], f.NumFields()),
	}
}

// Container 所属容器
func (dc *DexCache) Container() *container.File { return dc.file }

// Location 容器来源
func (dc *DexCache) Location() string { return dc.location }

// NumStrings 字符串槽数
func (dc *DexCache) NumStrings() int { return len(dc.strings) }

// NumResolvedTypes 类型槽数
func (dc *DexCache) NumResolvedTypes() int { return len(dc.types) }

// NumResolvedMethods 方法槽数
func (dc *DexCache) NumResolvedMethods() int { return len(dc.methods) }

// NumResolvedFields 字段槽数
func (dc *DexCache) NumResolvedFields() int { return len(dc.fields) }

// ResolvedString 读字符串槽
func (dc *DexCache) ResolvedString(idx uint32) (string, bool) {
	if int(idx) >= len(dc.strings) {
		return "", false
	}
	if p := dc.strings[idx].Load(); p != nil {
		return *p, true
	}
	return "", false
}

// SetResolvedString 写字符串槽
func (dc *DexCache) SetResolvedString(idx uint32, s string) {
	if int(idx) < len(dc.strings) {
		dc.strings[idx].Store(&s)
	}
}

// ResolvedType 读类型槽
func (dc *DexCache) ResolvedType(idx uint32) *Class {
	if int(idx) >= len(dc.types) {
		return nil
	}
	return dc.types[idx].Load()
}

// SetResolvedType 写类型槽
func (dc *DexCache) SetResolvedType(idx uint32, c *Class) {
	if int(idx) < len(dc.types) {
		dc.types[idx].Store(c)
	}
}

// ResolvedMethod 读方法槽
func (dc *DexCache) ResolvedMethod(idx uint32) *ArtMethod {
	if int(idx) >= len(dc.methods) {
		return nil
	}
	return dc.methods[idx].Load()
}

// SetResolvedMethod 写方法槽
func (dc *DexCache) SetResolvedMethod(idx uint32, m *ArtMethod) {
	if int(idx) < len(dc.methods) {
		dc.methods[idx].Store(m)
	}
}

// ResolvedField 读字段槽
func (dc *DexCache) ResolvedField(idx uint32) *ArtField {
	if int(idx) >= len(dc.fields) {
		return nil
	}
	return dc.fields[idx].Load()
}

// SetResolvedField 写字段槽
func (dc *DexCache) SetResolvedField(idx uint32, f *ArtField) {
	if int(idx) < len(dc.fields) {
		dc.fields[idx].Store(f)
	}
}
