package linker

import (
	"testing"

	"github.com/tangzhangming/solar/internal/container"
	rt "github.com/tangzhangming/solar/internal/runtime"
)

// ============================================================================
// 测试夹具：核心引导容器
// ============================================================================

const (
	objDesc    = "Ljava/lang/Object;"
	classDesc  = "Ljava/lang/Class;"
	stringDesc = "Ljava/lang/String;"
	refDesc    = "Ljava/lang/ref/Reference;"

	accPub       = container.AccPublic
	accPriv      = container.AccPrivate
	accProt      = container.AccProtected
	accStatic    = container.AccStatic
	accFinal     = container.AccFinal
	accAbstract  = container.AccAbstract
	accInterface = container.AccInterface
	accNative    = container.AccNative
)

// coreBuilder 核心容器的公共部分；测试可以在返回的 Builder 上继续加类
func coreBuilder() *container.Builder {
	b := container.NewBuilder("core.slc")

	b.Class(objDesc, accPub, "").
		DirectMethod("<init>", accPub, "V").
		VirtualMethod("equals", accPub, "Z", objDesc).
		VirtualMethod("hashCode", accPub, "I").
		VirtualMethod("toString", accPub, stringDesc).
		VirtualMethod("clone", accProt, objDesc).
		VirtualMethod("finalize", accProt, "V")

	b.Class(classDesc, accPub|accFinal, objDesc)

	b.Class(stringDesc, accPub|accFinal, objDesc).
		InstanceField("count", "I", accPriv|accFinal).
		InstanceField("hash", "I", accPriv)

	b.Class(refDesc, accPub|accAbstract, objDesc).
		InstanceField("pendingNext", refDesc, accPriv).
		InstanceField("queue", "Ljava/lang/ref/ReferenceQueue;", accPriv).
		InstanceField("queueNext", refDesc, accPriv).
		InstanceField("referent", objDesc, accPriv)

	b.Class("Ljava/lang/Cloneable;", accPub|accInterface|accAbstract, objDesc)
	b.Class("Ljava/io/Serializable;", accPub|accInterface|accAbstract, objDesc)

	b.Class("Ljava/lang/ClassLoader;", accPub|accAbstract, objDesc).
		InstanceField("parent", "Ljava/lang/ClassLoader;", accPriv)

	b.Class("Ljava/lang/reflect/Proxy;", accPub, objDesc).
		InstanceField("h", "Ljava/lang/reflect/InvocationHandler;", accProt).
		DirectMethod("<init>", accProt, "V", "Ljava/lang/reflect/InvocationHandler;")

	return b
}

// buildCoreContainer 构建标准核心容器
func buildCoreContainer() *container.File {
	return coreBuilder().MustBuild()
}

// newBootedLinkerWith 用指定选项与引导容器完成引导
func newBootedLinkerWith(t *testing.T, opts Options, boot ...*container.File) (*Linker, *rt.Thread) {
	t.Helper()
	l := New(opts)
	self := rt.NewThread()
	if len(boot) == 0 {
		boot = []*container.File{buildCoreContainer()}
	}
	if err := l.InitWithoutImage(self, boot); err != nil {
		t.Fatalf("bootstrap failed: %v", err)
	}
	return l, self
}

// newBootedLinker 默认选项引导
func newBootedLinker(t *testing.T) (*Linker, *rt.Thread) {
	t.Helper()
	return newBootedLinkerWith(t, Options{})
}

// mustFind 找不到类就让测试失败
func mustFind(t *testing.T, l *Linker, self *rt.Thread, descriptor string, loader *ClassLoader) *Class {
	t.Helper()
	klass, err := l.FindClass(self, descriptor, loader)
	if err != nil {
		t.Fatalf("FindClass(%s) failed: %v", descriptor, err)
	}
	if klass == nil {
		t.Fatalf("FindClass(%s) returned nil without error", descriptor)
	}
	return klass
}
