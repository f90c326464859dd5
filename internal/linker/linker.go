package linker

import (
	"sync"
	stdatomic "sync/atomic"

	"go.uber.org/atomic"
	"go.uber.org/zap"

	"github.com/tangzhangming/solar/internal/container"
	"github.com/tangzhangming/solar/internal/image"
	rt "github.com/tangzhangming/solar/internal/runtime"
)

// ============================================================================
// 外部协作者
// ============================================================================

// VerifyResult 校验器结论
type VerifyResult int

const (
	VerifyNoFailure VerifyResult = iota
	VerifySoftFailure
	VerifyHardFailure
)

// Verifier 字节码校验器回调
type Verifier interface {
	// VerifyClass 校验一个类；硬失败时附带消息
	VerifyClass(self *rt.Thread, klass *Class) (VerifyResult, string)
}

// Interpreter 解释器/JIT 回调，驱动 <clinit> 执行
type Interpreter interface {
	Invoke(self *rt.Thread, method *ArtMethod) error
}

// GC 垃圾回收协作接口
type GC interface {
	// WriteBarrierEveryFieldOf 已可达对象的引用槽更新后补卡
	WriteBarrierEveryFieldOf(obj interface{})
}

// 默认的空实现
type nopVerifier struct{}

func (nopVerifier) VerifyClass(*rt.Thread, *Class) (VerifyResult, string) {
	return VerifyNoFailure, ""
}

type nopInterpreter struct{}

func (nopInterpreter) Invoke(*rt.Thread, *ArtMethod) error { return nil }

type nopGC struct{}

func (nopGC) WriteBarrierEveryFieldOf(interface{}) {}

// ============================================================================
// 类根
// ============================================================================

// ClassRoot 引导期固定下来的类根编号
type ClassRoot int

const (
	kJavaLangClass ClassRoot = iota
	kJavaLangObject
	kClassArrayClass
	kObjectArrayClass
	kJavaLangString
	kJavaLangRefReference
	kJavaLangClassLoader
	kJavaLangReflectProxy
	kJavaLangCloneable
	kJavaIoSerializable
	kPrimitiveBoolean
	kPrimitiveByte
	kPrimitiveChar
	kPrimitiveShort
	kPrimitiveInt
	kPrimitiveLong
	kPrimitiveFloat
	kPrimitiveDouble
	kPrimitiveVoid
	kBooleanArrayClass
	kByteArrayClass
	kCharArrayClass
	kShortArrayClass
	kIntArrayClass
	kLongArrayClass
	kFloatArrayClass
	kDoubleArrayClass
	kClassRootsMax
)

// classRootDescriptors 类根对应的描述符
var classRootDescriptors = [kClassRootsMax]string{
	kJavaLangClass:        "Ljava/lang/Class;",
	kJavaLangObject:       "Ljava/lang/Object;",
	kClassArrayClass:      "[Ljava/lang/Class;",
	kObjectArrayClass:     "[Ljava/lang/Object;",
	kJavaLangString:       "Ljava/lang/String;",
	kJavaLangRefReference: "Ljava/lang/ref/Reference;",
	kJavaLangClassLoader:  "Ljava/lang/ClassLoader;",
	kJavaLangReflectProxy: "Ljava/lang/reflect/Proxy;",
	kJavaLangCloneable:    "Ljava/lang/Cloneable;",
	kJavaIoSerializable:   "Ljava/io/Serializable;",
	kPrimitiveBoolean:     "Z",
	kPrimitiveByte:        "B",
	kPrimitiveChar:        "C",
	kPrimitiveShort:       "S",
	kPrimitiveInt:         "I",
	kPrimitiveLong:        "J",
	kPrimitiveFloat:       "F",
	kPrimitiveDouble:      "D",
	kPrimitiveVoid:        "V",
	kBooleanArrayClass:    "[Z",
	kByteArrayClass:       "[B",
	kCharArrayClass:       "[C",
	kShortArrayClass:      "[S",
	kIntArrayClass:        "[I",
	kLongArrayClass:       "[J",
	kFloatArrayClass:      "[F",
	kDoubleArrayClass:     "[D",
}

// ============================================================================
// 链接器
// ============================================================================

// registeredContainer 已注册的容器与它的解析缓存
type registeredContainer struct {
	file  *container.File
	cache *DexCache
}

// Options 链接器构造参数
type Options struct {
	Config      *rt.Config
	Logger      *zap.Logger
	Verifier    Verifier
	Interpreter Interpreter
	GC          GC
}

// Linker 类链接器
//
// 进程级单例，由运行时显式创建与销毁。
type Linker struct {
	cfg    *rt.Config
	log    *zap.Logger
	verifier Verifier
	interp   Interpreter
	gc       GC

	// dexLock 保护容器注册表；独立于类加载器锁，不在类监视器内获取
	dexLock    sync.RWMutex
	containers []registeredContainer

	bootClassPath []*container.File
	bootAlloc     *LinearAlloc

	// classLoadersLock 保护加载器注册表与所有类表
	classLoadersLock sync.RWMutex
	bootTable        *ClassTable
	loaders          []*ClassLoader
	newClassRoots    []*Class
	logNewRoots      bool

	classRoots   [kClassRootsMax]*Class
	arrayIfTable *IfTable
	initDone     bool

	// findArrayClassCache 最近合成的数组类（轮转替换）
	findArrayClassCache       [kFindArrayCacheSize]stdatomic.Pointer[Class]
	findArrayClassCacheVictim atomic.Uint32

	// 蹦床与运行时占位方法
	tramps            rt.Trampolines
	imtUnimplemented  *ArtMethod
	imtConflict       *ArtMethod
	resolutionMethod  *ArtMethod

	// 镜像代码来源
	imageFile         *image.File
	imageCodeDisabled bool

	// 字符串驻留表
	internMu sync.Mutex
	interned map[string]string

	// 初始化统计
	classInitCount  atomic.Uint64
	classInitTimeNs atomic.Uint64
}

// New 创建链接器
func New(opts Options) *Linker {
	if opts.Config == nil {
		opts.Config = rt.DefaultConfig()
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Verifier == nil {
		opts.Verifier = nopVerifier{}
	}
	if opts.Interpreter == nil {
		opts.Interpreter = nopInterpreter{}
	}
	if opts.GC == nil {
		opts.GC = nopGC{}
	}
	l := &Linker{
		cfg:       opts.Config,
		log:       opts.Logger,
		verifier:  opts.Verifier,
		interp:    opts.Interpreter,
		gc:        opts.GC,
		bootTable: NewClassTable(),
		bootAlloc: NewLinearAlloc(),
		tramps:    rt.DefaultTrampolines(),
		interned:  make(map[string]string),
	}
	l.imtUnimplemented = l.newRuntimeMethod("imt_unimplemented", l.tramps.ToInterpreter)
	l.imtConflict = l.newRuntimeMethod("imt_conflict", l.tramps.IMTConflict)
	l.resolutionMethod = l.newRuntimeMethod("resolution", l.tramps.Resolution)
	return l
}

// newRuntimeMethod 构造运行时占位方法（没有声明类）
func (l *Linker) newRuntimeMethod(name string, ep rt.Entrypoint) *ArtMethod {
	return &ArtMethod{
		name:           name,
		signature:      "()V",
		dexMethodIndex: container.NoIndex,
		entrypoint:     ep,
	}
}

// Config 链接器当前策略
func (l *Linker) Config() *rt.Config { return l.cfg }

// Trampolines 当前蹦床表
func (l *Linker) Trampolines() rt.Trampolines { return l.tramps }

// ImtUnimplementedMethod IMT 空槽哨兵
func (l *Linker) ImtUnimplementedMethod() *ArtMethod { return l.imtUnimplemented }

// ImtConflictMethod IMT 冲突哨兵
func (l *Linker) ImtConflictMethod() *ArtMethod { return l.imtConflict }

// ResolutionMethod 解析哨兵
func (l *Linker) ResolutionMethod() *ArtMethod { return l.resolutionMethod }

// InitDone 引导是否完成
func (l *Linker) InitDone() bool { return l.initDone }

// ClassInitCount 完成初始化的类计数
func (l *Linker) ClassInitCount() uint64 { return l.classInitCount.Load() }

// ClassInitTimeNs 类初始化累计耗时
func (l *Linker) ClassInitTimeNs() uint64 { return l.classInitTimeNs.Load() }

// ============================================================================
// 类根访问
// ============================================================================

// GetClassRoot 取类根
func (l *Linker) GetClassRoot(root ClassRoot) *Class {
	return l.classRoots[root]
}

// setClassRoot 引导期装入类根
func (l *Linker) setClassRoot(root ClassRoot, klass *Class) {
	if klass == nil {
		panic("nil class root " + classRootDescriptors[root])
	}
	if klass.descriptor != classRootDescriptors[root] {
		panic("class root descriptor mismatch: " + klass.descriptor)
	}
	l.classRoots[root] = klass
}

// FindPrimitiveClass 描述符首字符 → 预分配的原始类型类
func (l *Linker) FindPrimitiveClass(c byte) *Class {
	switch c {
	case 'Z':
		return l.classRoots[kPrimitiveBoolean]
	case 'B':
		return l.classRoots[kPrimitiveByte]
	case 'C':
		return l.classRoots[kPrimitiveChar]
	case 'S':
		return l.classRoots[kPrimitiveShort]
	case 'I':
		return l.classRoots[kPrimitiveInt]
	case 'J':
		return l.classRoots[kPrimitiveLong]
	case 'F':
		return l.classRoots[kPrimitiveFloat]
	case 'D':
		return l.classRoots[kPrimitiveDouble]
	case 'V':
		return l.classRoots[kPrimitiveVoid]
	}
	return nil
}

// ============================================================================
// 容器注册
// ============================================================================

// RegisterContainer 注册容器并分配解析缓存
//
// 幂等：同一容器重复注册返回已有缓存。
func (l *Linker) RegisterContainer(f *container.File) *DexCache {
	l.dexLock.RLock()
	for _, rc := range l.containers {
		if rc.file == f {
			l.dexLock.RUnlock()
			return rc.cache
		}
	}
	l.dexLock.RUnlock()

	l.dexLock.Lock()
	defer l.dexLock.Unlock()
	for _, rc := range l.containers {
		if rc.file == f {
			return rc.cache
		}
	}
	cache := NewDexCache(f)
	l.containers = append(l.containers, registeredContainer{file: f, cache: cache})
	sum := f.Checksum()
	l.log.Debug("registered container",
		zap.String("location", f.Location()),
		zap.Int("class_defs", f.NumClassDefs()),
		zap.Binary("checksum", sum[:8]))
	return cache
}

// FindDexCache 已注册容器的解析缓存
func (l *Linker) FindDexCache(f *container.File) *DexCache {
	l.dexLock.RLock()
	defer l.dexLock.RUnlock()
	for _, rc := range l.containers {
		if rc.file == f {
			return rc.cache
		}
	}
	return nil
}

// AppendToBootClassPath 把容器挂到引导类路径
func (l *Linker) AppendToBootClassPath(f *container.File) {
	l.RegisterContainer(f)
	l.bootClassPath = append(l.bootClassPath, f)
}

// BootClassPath 引导类路径
func (l *Linker) BootClassPath() []*container.File { return l.bootClassPath }

// ============================================================================
// 加载器注册
// ============================================================================

// RegisterClassLoader 创建并登记一个用户加载器
func (l *Linker) RegisterClassLoader(parent *ClassLoader, containers []*container.File) *ClassLoader {
	loader := &ClassLoader{
		parent:     parent,
		containers: containers,
		table:      NewClassTable(),
		alloc:      NewLinearAlloc(),
	}
	for _, f := range containers {
		l.RegisterContainer(f)
	}
	l.classLoadersLock.Lock()
	l.loaders = append(l.loaders, loader)
	l.classLoadersLock.Unlock()
	return loader
}

// classTableForLoader 加载器的类表；nil 为引导类表
//
// 调用方持有 classLoadersLock。
func (l *Linker) classTableForLoader(loader *ClassLoader) *ClassTable {
	if loader == nil {
		return l.bootTable
	}
	return loader.table
}

// BootTable 引导类表
func (l *Linker) BootTable() *ClassTable { return l.bootTable }

// allocatorForLoader 加载器的线性分配器
func (l *Linker) allocatorForLoader(loader *ClassLoader) *LinearAlloc {
	if loader == nil {
		return l.bootAlloc
	}
	return loader.alloc
}

// ============================================================================
// 字符串驻留
// ============================================================================

// internString 返回驻留副本
func (l *Linker) internString(s string) string {
	l.internMu.Lock()
	defer l.internMu.Unlock()
	if v, ok := l.interned[s]; ok {
		return v
	}
	l.interned[s] = s
	return s
}
