package linker

import "testing"

// ============================================================================
// 线性分配器测试
// ============================================================================

func TestAllocMethodArrayStable(t *testing.T) {
	a := NewLinearAlloc()

	first := a.AllocMethodArray(3)
	first[0].name = "anchor"
	ptr := &first[0]

	// 后续分配不得搬迁已交出的存储
	for i := 0; i < 64; i++ {
		a.AllocMethodArray(7)
	}
	if &first[0] != ptr || first[0].name != "anchor" {
		t.Error("previously allocated methods must not move")
	}
}

func TestAllocLargeRequest(t *testing.T) {
	a := NewLinearAlloc()
	big := a.AllocMethodArray(allocChunkSize * 3)
	if len(big) != allocChunkSize*3 {
		t.Fatalf("large allocation length = %d", len(big))
	}
	if a.AllocFieldArray(0) != nil {
		t.Error("zero-length allocation should be nil")
	}
}

func TestReallocCopies(t *testing.T) {
	a := NewLinearAlloc()
	old := a.AllocMethodArray(2)
	old[0].name = "m0"
	old[1].name = "m1"

	grown := a.ReallocMethodArray(old, 4)
	if len(grown) != 4 {
		t.Fatalf("realloc length = %d", len(grown))
	}
	if grown[0].name != "m0" || grown[1].name != "m1" {
		t.Error("realloc must copy the old contents")
	}
	// 旧存储保持有效（线性分配器从不逐个释放）
	if old[0].name != "m0" {
		t.Error("old storage must stay intact")
	}
}

func TestAllocFreePanicsAfterDestroy(t *testing.T) {
	a := NewLinearAlloc()
	a.AllocFieldArray(1)
	a.Free()
	defer func() {
		if recover() == nil {
			t.Error("allocation after Free should panic")
		}
	}()
	a.AllocFieldArray(1)
}

func TestAllocStats(t *testing.T) {
	a := NewLinearAlloc()
	a.AllocMethodArray(5)
	a.AllocFieldArray(3)
	st := a.Stats()
	if st.Allocated != 8 || st.MethodChunks != 1 || st.FieldChunks != 1 {
		t.Errorf("stats = %+v", st)
	}
}
