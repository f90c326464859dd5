package linker

import (
	"strings"
	"testing"

	"github.com/tangzhangming/solar/internal/container"
	"github.com/tangzhangming/solar/internal/image"
	rt "github.com/tangzhangming/solar/internal/runtime"
)

// ============================================================================
// 镜像采纳测试
// ============================================================================

// buildTestImage 核心容器 + 一个带 AOT 代码的应用类
func buildTestImage(t *testing.T) (*image.File, *container.File, uint32, uint32) {
	t.Helper()
	core := buildCoreContainer()

	b := container.NewBuilder("app.slc")
	b.Class("Lapp/Hot;", accPub, objDesc).
		VirtualMethod("warm", accPub, "V").
		DirectMethod("boil", accPub|accStatic, "V")
	warmIdx := b.MethodRef("Lapp/Hot;", "warm", "V")
	boilIdx := b.MethodRef("Lapp/Hot;", "boil", "V")
	app := b.MustBuild()
	defIdx, _ := app.FindClassDef("Lapp/Hot;", 0)

	img := image.NewBuilder("boot.art", 8).
		AddContainer(core).
		AddContainer(app).
		AddMethodCode(app, defIdx, warmIdx, "app.Hot.warm").
		AddMethodCode(app, defIdx, boilIdx, "app.Hot.boil").
		MarkPreverified("Lapp/Hot;").
		Build()
	return img, app, warmIdx, boilIdx
}

func TestInitFromImage(t *testing.T) {
	img, _, _, _ := buildTestImage(t)

	l := New(Options{})
	self := rt.NewThread()
	if err := l.InitFromImage(self, img); err != nil {
		t.Fatalf("InitFromImage failed: %v", err)
	}

	// 蹦床整组来自镜像头
	if !strings.HasPrefix(l.Trampolines().Resolution.Name, "image_") {
		t.Errorf("resolution trampoline = %s, want image trampoline", l.Trampolines().Resolution.Name)
	}
	if l.GetClassRoot(kJavaLangObject).Status() != StatusInitialized {
		t.Error("bootstrap through the image should complete")
	}
}

func TestImageCodeBecomesEntrypoint(t *testing.T) {
	img, app, _, _ := buildTestImage(t)

	l := New(Options{})
	self := rt.NewThread()
	if err := l.InitFromImage(self, img); err != nil {
		t.Fatalf("InitFromImage failed: %v", err)
	}
	_ = app

	hot := mustFind(t, l, self, "Lapp/Hot;", nil)
	warm := hot.FindDeclaredVirtualMethod("warm", "()V")
	if warm.Entrypoint() == nil || !strings.HasPrefix(warm.Entrypoint().Name, "oat:") {
		t.Errorf("virtual method should run AOT code, got %v", warm.Entrypoint())
	}

	// 静态方法先挂解析蹦床，初始化后换成 AOT 代码
	boil := hot.FindDeclaredDirectMethod("boil", "()V")
	if boil.Entrypoint() != l.Trampolines().Resolution {
		t.Errorf("static method before init should sit on the resolution trampoline, got %v", boil.Entrypoint())
	}
	if ok, err := l.EnsureInitialized(self, hot, true, true); !ok || err != nil {
		t.Fatalf("init failed: %v", err)
	}
	if boil.Entrypoint() == nil || !strings.HasPrefix(boil.Entrypoint().Name, "oat:") {
		t.Errorf("static method after init should run AOT code, got %v", boil.Entrypoint())
	}
}

func TestImagePreverifiedSkipsVerifier(t *testing.T) {
	img, _, _, _ := buildTestImage(t)

	// 硬失败校验器：预校验类必须绕开它
	fv := &fakeVerifier{results: map[string]VerifyResult{"Lapp/Hot;": VerifyHardFailure}}
	l := New(Options{Verifier: fv})
	self := rt.NewThread()
	if err := l.InitFromImage(self, img); err != nil {
		t.Fatalf("InitFromImage failed: %v", err)
	}

	hot := mustFind(t, l, self, "Lapp/Hot;", nil)
	if ok, err := l.EnsureInitialized(self, hot, true, true); !ok || err != nil {
		t.Fatalf("preverified class should skip the verifier: %v", err)
	}
	if !hot.IsPreverified() {
		t.Error("image-preverified class should carry the preverified mark")
	}
}

func TestImagePointerSizeMismatch(t *testing.T) {
	core := buildCoreContainer()
	img := image.NewBuilder("boot32.art", 4).AddContainer(core).Build()

	l := New(Options{})
	if err := l.InitFromImage(rt.NewThread(), img); err == nil {
		t.Fatal("pointer size mismatch on a non-compiler runtime must be fatal")
	}

	// 编译器进程允许交叉指针宽度
	cfg := rt.DefaultConfig()
	cfg.Runtime.AotCompiler = true
	lc := New(Options{Config: cfg})
	if err := lc.InitFromImage(rt.NewThread(), img); err != nil {
		t.Fatalf("compiler runtime should accept a cross image: %v", err)
	}
}

func TestInterpretOnlyDisablesImageCode(t *testing.T) {
	img, _, _, _ := buildTestImage(t)

	cfg := rt.DefaultConfig()
	cfg.Runtime.InterpretOnly = true
	l := New(Options{Config: cfg})
	self := rt.NewThread()
	if err := l.InitFromImage(self, img); err != nil {
		t.Fatalf("InitFromImage failed: %v", err)
	}

	hot := mustFind(t, l, self, "Lapp/Hot;", nil)
	warm := hot.FindDeclaredVirtualMethod("warm", "()V")
	if warm.Entrypoint() != l.Trampolines().ToInterpreter {
		t.Errorf("interpret-only runtime should use the interpreter bridge, got %v", warm.Entrypoint())
	}
}

func TestEmptyImageRejected(t *testing.T) {
	img := image.NewBuilder("empty.art", 8).Build()
	l := New(Options{})
	if err := l.InitFromImage(rt.NewThread(), img); err == nil {
		t.Fatal("image without containers should fail the sanity sweep")
	}
}
