package linker

import (
	"testing"

	"github.com/tangzhangming/solar/internal/container"
)

// ============================================================================
// 根枚举与加载器回收测试
// ============================================================================

func TestVisitAllRoots(t *testing.T) {
	l, self := newBootedLinker(t)
	obj := mustFind(t, l, self, objDesc, nil)

	seen := map[*Class]bool{}
	l.VisitClassRoots(func(c *Class) { seen[c] = true }, VisitRootFlagAllRoots)
	if !seen[obj] {
		t.Error("boot table visit should include the object root")
	}
	if len(seen) < int(kClassRootsMax)/2 {
		t.Errorf("suspiciously few roots visited: %d", len(seen))
	}
}

func TestNewRootsLogging(t *testing.T) {
	l, self := newBootedLinker(t)

	// 开启新根日志，再定义一个类
	l.VisitClassRoots(func(*Class) {}, VisitRootFlagStartLoggingNewRoots)

	b := container.NewBuilder("app.slc")
	b.Class("Lapp/Fresh;", accPub, objDesc)
	l.AppendToBootClassPath(b.MustBuild())
	fresh := mustFind(t, l, self, "Lapp/Fresh;", nil)

	var newRoots []*Class
	l.VisitClassRoots(func(c *Class) { newRoots = append(newRoots, c) }, VisitRootFlagNewRoots)
	found := false
	for _, c := range newRoots {
		if c == fresh {
			found = true
		}
	}
	if !found {
		t.Error("newly defined class should appear in the new-roots log")
	}

	// 清空日志后不再出现
	l.VisitClassRoots(func(*Class) {}, VisitRootFlagClearRootLog|VisitRootFlagStopLoggingNewRoots)
	newRoots = nil
	l.VisitClassRoots(func(c *Class) { newRoots = append(newRoots, c) }, VisitRootFlagNewRoots)
	if len(newRoots) != 0 {
		t.Errorf("root log should be empty after clear, got %d entries", len(newRoots))
	}
}

func TestVisitClassesSpansLoaders(t *testing.T) {
	l, self := newBootedLinker(t)

	b := container.NewBuilder("app.slc")
	b.Class("Lapp/Mine;", accPub, objDesc)
	loader := l.RegisterClassLoader(nil, []*container.File{b.MustBuild()})
	mine := mustFind(t, l, self, "Lapp/Mine;", loader)

	found := false
	l.VisitClasses(func(c *Class) bool {
		if c == mine {
			found = true
			return false // 提前终止也要是安全的
		}
		return true
	})
	if !found {
		t.Error("VisitClasses should reach classes of user loaders")
	}
}

func TestCleanupClassLoaders(t *testing.T) {
	l, self := newBootedLinker(t)

	b := container.NewBuilder("app.slc")
	b.Class("Lapp/Doomed;", accPub, objDesc)
	loader := l.RegisterClassLoader(nil, []*container.File{b.MustBuild()})
	mustFind(t, l, self, "Lapp/Doomed;", loader)

	if l.NumClassLoaders() != 1 {
		t.Fatalf("loader count = %d", l.NumClassLoaders())
	}
	// 弱根未清除时不回收
	if err := l.CleanupClassLoaders(); err != nil {
		t.Fatalf("cleanup failed: %v", err)
	}
	if l.NumClassLoaders() != 1 {
		t.Fatal("live loader must survive cleanup")
	}

	loader.ClearWeakRoot()
	if err := l.CleanupClassLoaders(); err != nil {
		t.Fatalf("cleanup failed: %v", err)
	}
	if l.NumClassLoaders() != 0 {
		t.Error("cleared loader should be destroyed")
	}
}

func TestFreezeSnapshotCounts(t *testing.T) {
	l, self := newBootedLinker(t)

	before := l.BootTable().NumZygoteClasses() + l.BootTable().NumNonZygoteClasses()
	l.MoveClassTableToPreZygote()
	zygote := l.BootTable().NumZygoteClasses()
	if zygote != before {
		t.Errorf("zygote classes = %d, want %d", zygote, before)
	}
	if l.BootTable().NumNonZygoteClasses() != 0 {
		t.Error("non-zygote count should reset after freeze")
	}

	b := container.NewBuilder("app.slc")
	b.Class("Lapp/Late;", accPub, objDesc)
	l.AppendToBootClassPath(b.MustBuild())
	late := mustFind(t, l, self, "Lapp/Late;", nil)

	if l.BootTable().NumZygoteClasses() < zygote {
		t.Error("zygote count must be non-decreasing")
	}
	if l.BootTable().NumNonZygoteClasses() != 1 {
		t.Errorf("non-zygote classes = %d, want 1", l.BootTable().NumNonZygoteClasses())
	}
	// 冻结后的查找仍然看到所有代
	if l.LookupClass("Lapp/Late;", ComputeModifiedUtf8Hash("Lapp/Late;"), nil) != late {
		t.Error("lookup should see both generations")
	}
	if l.LookupClass(objDesc, ComputeModifiedUtf8Hash(objDesc), nil) == nil {
		t.Error("frozen generation must stay visible")
	}
}
