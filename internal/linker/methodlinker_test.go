package linker

import (
	"fmt"
	"testing"

	"github.com/tangzhangming/solar/internal/container"
	lerr "github.com/tangzhangming/solar/internal/errors"
)

// ============================================================================
// 虚方法链接测试
// ============================================================================

func TestVirtualOverride(t *testing.T) {
	l, self := newBootedLinker(t)

	b := container.NewBuilder("app.slc")
	b.Class("Lapp/Animal;", accPub, objDesc).
		VirtualMethod("speak", accPub, "V").
		VirtualMethod("name", accPub, stringDesc)
	b.Class("Lapp/Dog;", accPub, "Lapp/Animal;").
		VirtualMethod("speak", accPub, "V").
		VirtualMethod("fetch", accPub, "V")
	loader := l.RegisterClassLoader(nil, []*container.File{b.MustBuild()})

	animal := mustFind(t, l, self, "Lapp/Animal;", loader)
	dog := mustFind(t, l, self, "Lapp/Dog;", loader)

	speak := animal.FindDeclaredVirtualMethod("speak", "()V")
	if speak == nil {
		t.Fatal("Animal.speak missing")
	}
	slot := int(speak.MethodIndex())
	override := dog.VTableEntry(slot)
	if override.DeclaringClass() != dog {
		t.Errorf("vtable slot %d should hold the Dog override, got %s",
			slot, override.DeclaringClass().PrettyName())
	}
	// 未覆盖的槽位沿用父类条目
	name := animal.FindDeclaredVirtualMethod("name", "()Ljava/lang/String;")
	if dog.VTableEntry(int(name.MethodIndex())) != name {
		t.Error("non-overridden slot should keep the super method")
	}
	// 新方法追加在末尾
	if len(dog.VTable()) != len(animal.VTable())+1 {
		t.Errorf("Dog vtable length = %d, want %d", len(dog.VTable()), len(animal.VTable())+1)
	}
}

func TestFinalMethodOverrideRejected(t *testing.T) {
	l, self := newBootedLinker(t)

	b := container.NewBuilder("app.slc")
	b.Class("Lapp/Sealed;", accPub, objDesc).
		VirtualMethod("locked", accPub|accFinal, "V")
	b.Class("Lapp/Breaker;", accPub, "Lapp/Sealed;").
		VirtualMethod("locked", accPub, "V")
	loader := l.RegisterClassLoader(nil, []*container.File{b.MustBuild()})

	_, err := l.FindClass(self, "Lapp/Breaker;", loader)
	if !lerr.IsKind(err, lerr.KindLinkage) {
		t.Fatalf("final override should raise LinkageError, got %v", err)
	}
}

// ============================================================================
// 接口链接测试
// ============================================================================

func TestIfTableOrdering(t *testing.T) {
	// 任意 I extends J：J 必须排在 I 之前，且各自只出现一次
	l, self := newBootedLinker(t)

	b := container.NewBuilder("app.slc")
	b.Class("Lapp/J;", accPub|accInterface|accAbstract, objDesc).
		VirtualMethod("j", accPub|accAbstract, "V")
	b.Class("Lapp/I;", accPub|accInterface|accAbstract, objDesc, "Lapp/J;").
		VirtualMethod("i", accPub|accAbstract, "V")
	b.Class("Lapp/K;", accPub|accInterface|accAbstract, objDesc, "Lapp/J;").
		VirtualMethod("k", accPub|accAbstract, "V")
	b.Class("Lapp/C;", accPub|accAbstract, objDesc, "Lapp/I;", "Lapp/K;")
	loader := l.RegisterClassLoader(nil, []*container.File{b.MustBuild()})

	c := mustFind(t, l, self, "Lapp/C;", loader)
	iface := func(d string) *Class { return mustFind(t, l, self, d, loader) }

	seen := map[*Class]int{}
	tbl := c.IfTable()
	for i := 0; i < tbl.Count(); i++ {
		cur := tbl.Interface(i)
		if _, dup := seen[cur]; dup {
			t.Errorf("interface %s appears twice in iftable", cur.PrettyName())
		}
		seen[cur] = i
	}
	for _, d := range []string{"Lapp/I;", "Lapp/J;", "Lapp/K;"} {
		if _, ok := seen[iface(d)]; !ok {
			t.Fatalf("interface %s missing from iftable", d)
		}
	}
	if !(seen[iface("Lapp/J;")] < seen[iface("Lapp/I;")]) {
		t.Error("J must precede its subinterface I")
	}
	if !(seen[iface("Lapp/J;")] < seen[iface("Lapp/K;")]) {
		t.Error("J must precede its subinterface K")
	}
}

func TestImplementsNonInterfaceRejected(t *testing.T) {
	l, self := newBootedLinker(t)

	b := container.NewBuilder("app.slc")
	b.Class("Lapp/Plain;", accPub, objDesc)
	b.Class("Lapp/Oops;", accPub, objDesc, "Lapp/Plain;")
	loader := l.RegisterClassLoader(nil, []*container.File{b.MustBuild()})

	_, err := l.FindClass(self, "Lapp/Oops;", loader)
	if !lerr.IsKind(err, lerr.KindIncompatibleClassChange) {
		t.Fatalf("implementing a class should raise IncompatibleClassChange, got %v", err)
	}
}

func TestMirandaSynthesis(t *testing.T) {
	// 抽象类不实现接口方法：合成米兰达占位
	l, self := newBootedLinker(t)

	b := container.NewBuilder("app.slc")
	b.Class("Lapp/Shape;", accPub|accInterface|accAbstract, objDesc).
		VirtualMethod("area", accPub|accAbstract, "I")
	b.Class("Lapp/AbstractShape;", accPub|accAbstract, objDesc, "Lapp/Shape;")
	loader := l.RegisterClassLoader(nil, []*container.File{b.MustBuild()})

	abs := mustFind(t, l, self, "Lapp/AbstractShape;", loader)
	if abs.NumVirtualMethods() != 1 {
		t.Fatalf("expected 1 synthesized virtual method, got %d", abs.NumVirtualMethods())
	}
	miranda := abs.VirtualMethod(0)
	if !miranda.IsMiranda() || !miranda.IsAbstract() {
		t.Error("synthesized method must be an abstract miranda")
	}
	if miranda.Name() != "area" {
		t.Errorf("miranda name = %s", miranda.Name())
	}
	// 接口表槽位与虚表尾都指向同一个米兰达
	tbl := abs.IfTable()
	found := false
	for i := 0; i < tbl.Count(); i++ {
		if tbl.Interface(i).Descriptor() == "Lapp/Shape;" {
			if tbl.MethodArray(i)[0] != miranda {
				t.Error("iftable slot should point at the miranda method")
			}
			found = true
		}
	}
	if !found {
		t.Fatal("Shape missing from iftable")
	}
	if abs.VTableEntry(len(abs.VTable())-1) != miranda {
		t.Error("miranda should be appended to the vtable")
	}
}

func TestDefaultMethodSelected(t *testing.T) {
	l, self := newBootedLinker(t)

	b := container.NewBuilder("app.slc")
	b.Class("Lapp/Greeter;", accPub|accInterface|accAbstract, objDesc).
		VirtualMethod("greet", accPub, "V") // 带体 → 默认方法
	b.Class("Lapp/Impl;", accPub, objDesc, "Lapp/Greeter;")
	loader := l.RegisterClassLoader(nil, []*container.File{b.MustBuild()})

	greeter := mustFind(t, l, self, "Lapp/Greeter;", loader)
	if !greeter.HasDefaultMethods() {
		t.Fatal("interface with a body should be flagged HasDefaultMethods")
	}
	impl := mustFind(t, l, self, "Lapp/Impl;", loader)
	copied := impl.FindDeclaredVirtualMethod("greet", "()V")
	if copied == nil {
		t.Fatal("default method should be copied into the class virtuals")
	}
	if !copied.IsDefault() {
		t.Error("copied method must carry the default flag")
	}
	if copied.DeclaringClass() != greeter {
		t.Error("copied default keeps the interface as declaring class")
	}
	if impl.VTableEntry(len(impl.VTable())-1) != copied {
		t.Error("default method should occupy the appended vtable slot")
	}
}

func TestDefaultMethodOverriddenByClass(t *testing.T) {
	l, self := newBootedLinker(t)

	b := container.NewBuilder("app.slc")
	b.Class("Lapp/Greeter;", accPub|accInterface|accAbstract, objDesc).
		VirtualMethod("greet", accPub, "V")
	b.Class("Lapp/Custom;", accPub, objDesc, "Lapp/Greeter;").
		VirtualMethod("greet", accPub, "V")
	loader := l.RegisterClassLoader(nil, []*container.File{b.MustBuild()})

	custom := mustFind(t, l, self, "Lapp/Custom;", loader)
	own := custom.FindDeclaredVirtualMethod("greet", "()V")
	if own.IsDefault() {
		t.Fatal("class-declared implementation should win over the default")
	}
	tbl := custom.IfTable()
	for i := 0; i < tbl.Count(); i++ {
		if tbl.Interface(i).Descriptor() == "Lapp/Greeter;" {
			if tbl.MethodArray(i)[0] != own {
				t.Error("iftable should dispatch to the class implementation")
			}
		}
	}
}

func TestDefaultMethodConflictIsLazy(t *testing.T) {
	// I1 与 I2 各有同名默认方法且互不继承：链接成功，解析时才报错
	l, self := newBootedLinker(t)

	b := container.NewBuilder("app.slc")
	b.Class("Lapp/I1;", accPub|accInterface|accAbstract, objDesc).
		VirtualMethod("m", accPub, "V")
	b.Class("Lapp/I2;", accPub|accInterface|accAbstract, objDesc).
		VirtualMethod("m", accPub, "V")
	b.Class("Lapp/C;", accPub, objDesc, "Lapp/I1;", "Lapp/I2;")
	methodIdx := b.MethodRef("Lapp/C;", "m", "V")
	f := b.MustBuild()
	loader := l.RegisterClassLoader(nil, []*container.File{f})

	c := mustFind(t, l, self, "Lapp/C;", loader)
	if ok, err := l.EnsureInitialized(self, c, true, true); !ok || err != nil {
		t.Fatalf("initialization must succeed despite the conflict: ok=%v err=%v", ok, err)
	}

	// 冲突哨兵占住了虚表槽
	sentinel := c.FindDeclaredVirtualMethod("m", "()V")
	if sentinel == nil || !sentinel.IsDefaultConflicting() {
		t.Fatal("conflict sentinel missing from class virtuals")
	}

	_, err := l.ResolveMethod(self, f, methodIdx, loader, nil, InvokeVirtual)
	if !lerr.IsKind(err, lerr.KindIncompatibleClassChange) {
		t.Fatalf("dispatch through the conflict should raise IncompatibleClassChange, got %v", err)
	}
}

func TestDefaultSelectionDeterministic(t *testing.T) {
	// 固定层级下每次选择都得到同一个胜者
	build := func() string {
		l, self := newBootedLinker(t)
		b := container.NewBuilder("app.slc")
		b.Class("Lapp/Base;", accPub|accInterface|accAbstract, objDesc).
			VirtualMethod("m", accPub, "V")
		b.Class("Lapp/Sub;", accPub|accInterface|accAbstract, objDesc, "Lapp/Base;").
			VirtualMethod("m", accPub, "V") // 子接口遮蔽父接口
		b.Class("Lapp/C;", accPub, objDesc, "Lapp/Sub;")
		loader := l.RegisterClassLoader(nil, []*container.File{b.MustBuild()})
		c := mustFind(t, l, self, "Lapp/C;", loader)
		m := c.FindDeclaredVirtualMethod("m", "()V")
		return m.DeclaringClass().Descriptor()
	}
	first := build()
	for i := 0; i < 3; i++ {
		if got := build(); got != first {
			t.Fatalf("selection not deterministic: %s vs %s", got, first)
		}
	}
	if first != "Lapp/Sub;" {
		t.Errorf("most specific interface should win, got %s", first)
	}
}

// ============================================================================
// IMT 测试
// ============================================================================

func TestIMTPlacementAndConflict(t *testing.T) {
	// 同一 IMT 槽位被两个不同签名的接口方法命中 → 冲突哨兵
	l, self := newBootedLinker(t)

	b := container.NewBuilder("app.slc")
	cb := b.Class("Lapp/Wide;", accPub|accInterface|accAbstract, objDesc)
	// kIMTSize+1 个方法保证 m0 与 m64 落进同一槽
	for i := 0; i <= kIMTSize; i++ {
		cb.VirtualMethod(fmt.Sprintf("m%d", i), accPub|accAbstract, "V")
	}
	impl := b.Class("Lapp/WideImpl;", accPub, objDesc, "Lapp/Wide;")
	for i := 0; i <= kIMTSize; i++ {
		impl.VirtualMethod(fmt.Sprintf("m%d", i), accPub, "V")
	}
	loader := l.RegisterClassLoader(nil, []*container.File{b.MustBuild()})

	wide := mustFind(t, l, self, "Lapp/Wide;", loader)
	klass := mustFind(t, l, self, "Lapp/WideImpl;", loader)
	imt := klass.IMT()
	if len(imt) != kIMTSize {
		t.Fatalf("imt length = %d", len(imt))
	}

	m0 := wide.FindDeclaredVirtualMethod("m0", "()V")
	m64 := wide.FindDeclaredVirtualMethod(fmt.Sprintf("m%d", kIMTSize), "()V")
	slot0 := m0.DexMethodIndex() % kIMTSize
	slot64 := m64.DexMethodIndex() % kIMTSize
	if slot0 != slot64 {
		t.Fatalf("test setup broken: slots %d vs %d", slot0, slot64)
	}
	if imt[slot0] != l.ImtConflictMethod() {
		t.Errorf("colliding slot should hold the conflict sentinel, got %v", imt[slot0])
	}

	// 无冲突的槽位放实现本身
	m1 := wide.FindDeclaredVirtualMethod("m1", "()V")
	slot1 := m1.DexMethodIndex() % kIMTSize
	if slot1 != slot0 {
		want := klass.FindDeclaredVirtualMethod("m1", "()V")
		if imt[slot1] != want {
			t.Errorf("imt slot %d should hold the implementation", slot1)
		}
	}
}

func TestVTableHasNoHoles(t *testing.T) {
	l, self := newBootedLinker(t)

	b := container.NewBuilder("app.slc")
	b.Class("Lapp/IA;", accPub|accInterface|accAbstract, objDesc).
		VirtualMethod("a", accPub|accAbstract, "V")
	b.Class("Lapp/IB;", accPub|accInterface|accAbstract, objDesc, "Lapp/IA;").
		VirtualMethod("b", accPub, "V")
	b.Class("Lapp/Mix;", accPub|accAbstract, objDesc, "Lapp/IB;").
		VirtualMethod("c", accPub, "V")
	loader := l.RegisterClassLoader(nil, []*container.File{b.MustBuild()})

	mix := mustFind(t, l, self, "Lapp/Mix;", loader)
	for i, m := range mix.VTable() {
		if m == nil {
			t.Fatalf("vtable hole at %d", i)
		}
	}
}
