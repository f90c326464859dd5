package linker

import (
	"sync"
	"testing"

	"github.com/tangzhangming/solar/internal/container"
)

// ============================================================================
// 解析缓存测试
// ============================================================================

func dexCacheFixture() (*container.File, *DexCache) {
	b := container.NewBuilder("cache.slc")
	b.Class("Lc/C;", container.AccPublic, "").
		InstanceField("f", "I", container.AccPublic).
		VirtualMethod("m", container.AccPublic, "V")
	f := b.MustBuild()
	return f, NewDexCache(f)
}

func TestDexCacheSizes(t *testing.T) {
	f, dc := dexCacheFixture()
	if dc.NumStrings() != f.NumStrings() ||
		dc.NumResolvedTypes() != f.NumTypes() ||
		dc.NumResolvedMethods() != f.NumMethods() ||
		dc.NumResolvedFields() != f.NumFields() {
		t.Error("cache arrays must match the container index spaces")
	}
}

func TestDexCacheStableSlots(t *testing.T) {
	_, dc := dexCacheFixture()
	klass := tableClass("Lc/C;")

	if dc.ResolvedType(0) != nil {
		t.Fatal("slot should start empty")
	}
	dc.SetResolvedType(0, klass)
	if dc.ResolvedType(0) != klass {
		t.Fatal("slot should hold the stored class")
	}
	// 同值重写是合法的
	dc.SetResolvedType(0, klass)
	if dc.ResolvedType(0) != klass {
		t.Fatal("same-value overwrite must keep the slot stable")
	}
}

func TestDexCacheConcurrentWriters(t *testing.T) {
	_, dc := dexCacheFixture()
	klass := tableClass("Lc/C;")

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			dc.SetResolvedType(0, klass)
			if got := dc.ResolvedType(0); got != klass {
				t.Errorf("reader saw %v", got)
			}
		}()
	}
	wg.Wait()
}

func TestDexCacheBounds(t *testing.T) {
	_, dc := dexCacheFixture()
	// 越界读写不恐慌、不越界
	dc.SetResolvedType(1 << 20, tableClass("Lx;"))
	if dc.ResolvedType(1<<20) != nil {
		t.Error("out-of-range slot must read as nil")
	}
	if _, ok := dc.ResolvedString(1 << 20); ok {
		t.Error("out-of-range string must miss")
	}
}
