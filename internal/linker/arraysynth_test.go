package linker

import (
	"testing"

	"github.com/tangzhangming/solar/internal/container"
	lerr "github.com/tangzhangming/solar/internal/errors"
)

// ============================================================================
// 数组类合成测试
// ============================================================================

func TestIntArrayClass(t *testing.T) {
	// 场景：原始类型数组
	l, self := newBootedLinker(t)

	arr := mustFind(t, l, self, "[I", nil)
	if arr.ComponentType() != l.GetClassRoot(kPrimitiveInt) {
		t.Error("component type should be the int primitive class")
	}
	if arr.SuperClass() != l.GetClassRoot(kJavaLangObject) {
		t.Error("array super must be the object root")
	}
	if arr.IfTable().Count() != 2 {
		t.Errorf("array iftable length = %d, want 2", arr.IfTable().Count())
	}
	wantAccess := container.AccPublic | container.AccAbstract | container.AccFinal
	if arr.AccessFlags()&wantAccess != wantAccess {
		t.Errorf("array access flags = %#x, want public|abstract|final set", arr.AccessFlags())
	}
	if arr.AccessFlags()&container.AccInterface != 0 {
		t.Error("array must not carry the interface flag")
	}
	if arr.ClassFlags()&ClassFlagNoReferenceFields == 0 {
		t.Error("primitive array must be flagged NoReferenceFields")
	}
	if arr.Status() != StatusInitialized {
		t.Errorf("array status = %s", arr.Status())
	}
}

func TestArrayIfTableIsShared(t *testing.T) {
	// 所有数组类共享同一份全局接口表
	l, self := newBootedLinker(t)

	a := mustFind(t, l, self, "[I", nil)
	b := mustFind(t, l, self, "[J", nil)
	c := mustFind(t, l, self, "[Ljava/lang/String;", nil)
	if a.IfTable() != b.IfTable() || b.IfTable() != c.IfTable() {
		t.Error("array classes must share the single global iftable")
	}
	if a.IfTable().Interface(0) != l.GetClassRoot(kJavaLangCloneable) {
		t.Error("array iftable slot 0 should be Cloneable")
	}
	if a.IfTable().Interface(1) != l.GetClassRoot(kJavaIoSerializable) {
		t.Error("array iftable slot 1 should be Serializable")
	}
}

func TestObjectArrayFlags(t *testing.T) {
	l, self := newBootedLinker(t)

	arr := mustFind(t, l, self, "[Ljava/lang/String;", nil)
	if arr.ClassFlags()&ClassFlagObjectArray == 0 {
		t.Error("reference array must be flagged ObjectArray")
	}
	if arr.VTable() == nil || len(arr.VTable()) != len(l.GetClassRoot(kJavaLangObject).VTable()) {
		t.Error("array vtable should be the object root vtable")
	}
}

func TestVoidArrayRejected(t *testing.T) {
	l, self := newBootedLinker(t)

	_, err := l.FindClass(self, "[V", nil)
	if !lerr.IsKind(err, lerr.KindNoClassDefFound) {
		t.Fatalf("void array should fail with NoClassDefFound, got %v", err)
	}
}

func TestArrayIdentity(t *testing.T) {
	l, self := newBootedLinker(t)

	a := mustFind(t, l, self, "[[I", nil)
	b := mustFind(t, l, self, "[[I", nil)
	if a != b {
		t.Error("repeated array lookup must return the same class")
	}
	if a.ComponentType() != mustFind(t, l, self, "[I", nil) {
		t.Error("nested array component should be the inner array class")
	}
}

func TestArrayLoaderFollowsComponent(t *testing.T) {
	// 数组类挂元素类型的加载器，不是请求方的
	l, self := newBootedLinker(t)

	appContainer := container.NewBuilder("app.slc")
	appContainer.Class("Lapp/Widget;", accPub, objDesc)
	loader := l.RegisterClassLoader(nil, []*container.File{appContainer.MustBuild()})

	arr := mustFind(t, l, self, "[Lapp/Widget;", loader)
	if arr.Loader() != loader {
		t.Error("array of app class should live in the app loader")
	}

	// 元素在引导路径里时，数组也归引导加载器
	strArr := mustFind(t, l, self, "[Ljava/lang/String;", loader)
	if strArr.Loader() != nil {
		t.Error("array of boot class should live in the boot loader")
	}
}
