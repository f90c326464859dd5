// Package image 实现预链接镜像的内存模型。
//
// 镜像由 AOT 编译产物打包而成：若干容器、蹦床指针表、按方法粒度的
// 已编译代码、以及一份通过预校验的类清单。磁盘格式由外部工具负责；
// 链接器通过本包的查询接口采纳镜像。
package image

import (
	"encoding/binary"

	"golang.org/x/crypto/blake2b"

	"github.com/tangzhangming/solar/internal/container"
	rt "github.com/tangzhangming/solar/internal/runtime"
)

// ============================================================================
// 节
// ============================================================================

// Section 镜像节编号
type Section int

const (
	SectionClassRoots Section = iota // 类根数组
	SectionDexCaches                 // 每容器解析缓存
	SectionMethods                   // 方法与入口点
	sectionCount
)

// span 一个节的 [begin, end) 字节区间
type span struct {
	begin uint32
	end   uint32
}

// ============================================================================
// 镜像头与内容
// ============================================================================

// Header 镜像头
type Header struct {
	PointerSize int      // 产出镜像的指针宽度（字节）
	Checksum    [32]byte // 内容校验和
	Tramps      rt.Trampolines
}

// MethodCode 方法节条目：一个方法的 AOT 代码
type MethodCode struct {
	Container   *container.File
	ClassDefIdx int32
	MethodIdx   uint32
	Code        rt.Entrypoint
}

// File 一个已打开的镜像
type File struct {
	location string
	header   Header

	containers  []*container.File
	methods     []MethodCode
	preverified map[string]bool // 描述符 → 已预校验

	codeIndex map[methodKey]rt.Entrypoint
	sections  [sectionCount]span
}

type methodKey struct {
	c         *container.File
	methodIdx uint32
}

// Location 镜像来源
func (f *File) Location() string { return f.location }

// Header 镜像头
func (f *File) Header() Header { return f.header }

// Containers 镜像打包的容器
func (f *File) Containers() []*container.File { return f.containers }

// Methods 方法节
func (f *File) Methods() []MethodCode { return f.methods }

// IsPreverified 类是否随镜像通过了预校验
func (f *File) IsPreverified(descriptor string) bool { return f.preverified[descriptor] }

// CodeFor 查询一个方法的 AOT 代码；没有则返回 nil
func (f *File) CodeFor(c *container.File, methodIdx uint32) rt.Entrypoint {
	return f.codeIndex[methodKey{c: c, methodIdx: methodIdx}]
}

// Contains 偏移是否落在指定节内（健全性扫描用）
func (f *File) Contains(sec Section, offset uint32) bool {
	if sec < 0 || sec >= sectionCount {
		return false
	}
	s := f.sections[sec]
	return offset >= s.begin && offset < s.end
}

// SectionOffset 节的起始偏移
func (f *File) SectionOffset(sec Section) uint32 {
	if sec < 0 || sec >= sectionCount {
		return 0
	}
	return f.sections[sec].begin
}

// ============================================================================
// 镜像构建器
// ============================================================================

// Builder 以编程方式组装镜像（AOT 打包器和测试夹具使用）
type Builder struct {
	f File
}

// NewBuilder 创建镜像构建器
func NewBuilder(location string, pointerSize int) *Builder {
	b := &Builder{}
	b.f.location = location
	b.f.header.PointerSize = pointerSize
	b.f.header.Tramps = rt.Trampolines{
		Resolution:    rt.NewCodeStub("image_resolution_trampoline"),
		IMTConflict:   rt.NewCodeStub("image_imt_conflict_trampoline"),
		GenericNative: rt.NewCodeStub("image_generic_native_stub"),
		ToInterpreter: rt.NewCodeStub("image_to_interpreter_bridge"),
		ProxyInvoke:   rt.NewCodeStub("image_proxy_invoke_handler"),
	}
	b.f.preverified = make(map[string]bool)
	b.f.codeIndex = make(map[methodKey]rt.Entrypoint)
	return b
}

// Trampolines 覆盖默认蹦床表
func (b *Builder) Trampolines(t rt.Trampolines) *Builder {
	b.f.header.Tramps = t
	return b
}

// AddContainer 打包一个容器
func (b *Builder) AddContainer(c *container.File) *Builder {
	b.f.containers = append(b.f.containers, c)
	return b
}

// AddMethodCode 记录一个方法的 AOT 代码
func (b *Builder) AddMethodCode(c *container.File, classDefIdx int32, methodIdx uint32, name string) *Builder {
	code := rt.NewCodeStub("oat:" + name)
	b.f.methods = append(b.f.methods, MethodCode{
		Container:   c,
		ClassDefIdx: classDefIdx,
		MethodIdx:   methodIdx,
		Code:        code,
	})
	b.f.codeIndex[methodKey{c: c, methodIdx: methodIdx}] = code
	return b
}

// MarkPreverified 记录一个通过预校验的类
func (b *Builder) MarkPreverified(descriptor string) *Builder {
	b.f.preverified[descriptor] = true
	return b
}

// Build 固化镜像并计算节区间与校验和
func (b *Builder) Build() *File {
	// 节区间按内容规模铺设；具体数值只用于 Contains 的健全性检查
	const align = 64
	cursor := uint32(align)
	lay := func(sec Section, n int) {
		size := uint32(n)*16 + align
		b.f.sections[sec] = span{begin: cursor, end: cursor + size}
		cursor += size
	}
	lay(SectionClassRoots, len(b.f.containers)*8)
	lay(SectionDexCaches, len(b.f.containers))
	lay(SectionMethods, len(b.f.methods))

	h, _ := blake2b.New256(nil)
	var buf [4]byte
	writeInt := func(n int) {
		binary.LittleEndian.PutUint32(buf[:], uint32(n))
		h.Write(buf[:])
	}
	h.Write([]byte(b.f.location))
	writeInt(b.f.header.PointerSize)
	writeInt(len(b.f.containers))
	for _, c := range b.f.containers {
		sum := c.Checksum()
		h.Write(sum[:])
	}
	writeInt(len(b.f.methods))
	writeInt(len(b.f.preverified))
	copy(b.f.header.Checksum[:], h.Sum(nil))

	out := b.f
	return &out
}
