package container

import "testing"

// ============================================================================
// 容器构建与查询测试
// ============================================================================

func testFile() *File {
	b := NewBuilder("test.slc")
	b.Class("La/B;", AccPublic, "Ljava/lang/Object;", "La/I;").
		SourceFile("B.sola").
		StaticField("S", "J", AccPublic).
		StaticInt(7).
		InstanceField("f", "I", AccPrivate).
		DirectMethod("<init>", AccPublic, "V").
		DirectMethod("helper", AccPrivate|AccStatic, "I", "I").
		VirtualMethod("run", AccPublic, "V", "Ljava/lang/String;")
	b.Class("La/I;", AccPublic|AccInterface|AccAbstract, "Ljava/lang/Object;")
	return b.MustBuild()
}

func TestBuilderDeduplicatesPools(t *testing.T) {
	b := NewBuilder("dedup.slc")
	t1 := b.Type("La/B;")
	t2 := b.Type("La/B;")
	if t1 != t2 {
		t.Error("type pool must deduplicate")
	}
	s1 := b.InternString("x")
	s2 := b.InternString("x")
	if s1 != s2 {
		t.Error("string pool must deduplicate")
	}
	m1 := b.MethodRef("La/B;", "m", "V")
	m2 := b.MethodRef("La/B;", "m", "V")
	if m1 != m2 {
		t.Error("method pool must deduplicate")
	}
}

func TestFindClassDef(t *testing.T) {
	f := testFile()
	defIdx, ok := f.FindClassDef("La/B;", 0)
	if !ok {
		t.Fatal("class def not found")
	}
	def := f.ClassDef(defIdx)
	if f.TypeDescriptor(def.ClassIdx) != "La/B;" {
		t.Error("class def descriptor mismatch")
	}
	// 备忘录命中后仍然给同一个索引
	again, ok := f.FindClassDef("La/B;", 0)
	if !ok || again != defIdx {
		t.Error("memoized lookup disagrees")
	}
	if _, ok := f.FindClassDef("La/Missing;", 0); ok {
		t.Error("absent descriptor should miss")
	}
	// 否定结果也被备忘
	if _, ok := f.FindClassDef("La/Missing;", 0); ok {
		t.Error("memoized negative lookup should miss")
	}
}

func TestMethodQueries(t *testing.T) {
	f := testFile()
	defIdx, _ := f.FindClassDef("La/B;", 0)
	def := f.ClassDef(defIdx)

	if len(def.DirectMethods) != 2 || len(def.VirtualMethods) != 1 {
		t.Fatalf("method counts: direct=%d virtual=%d", len(def.DirectMethods), len(def.VirtualMethods))
	}
	run := def.VirtualMethods[0].MethodIdx
	if f.MethodName(run) != "run" {
		t.Errorf("method name = %s", f.MethodName(run))
	}
	if f.MethodSignature(run) != "(Ljava/lang/String;)V" {
		t.Errorf("signature = %s", f.MethodSignature(run))
	}
	if f.MethodShorty(run) != "VL" {
		t.Errorf("shorty = %s", f.MethodShorty(run))
	}
	if f.MethodClassDescriptor(run) != "La/B;" {
		t.Errorf("declaring descriptor = %s", f.MethodClassDescriptor(run))
	}

	// <init> 自动打上构造器标志
	if def.DirectMethods[0].AccessFlags&AccConstructor == 0 {
		t.Error("<init> should carry the constructor flag")
	}
	// 带体与否由 abstract/native 决定
	if def.DirectMethods[0].Code == nil {
		t.Error("concrete method should carry code")
	}
}

func TestFieldQueries(t *testing.T) {
	f := testFile()
	defIdx, _ := f.FindClassDef("La/B;", 0)
	def := f.ClassDef(defIdx)

	if len(def.StaticFields) != 1 || len(def.InstanceFields) != 1 {
		t.Fatal("field counts wrong")
	}
	s := def.StaticFields[0]
	if f.FieldName(s.FieldIdx) != "S" || f.FieldTypeDescriptor(s.FieldIdx) != "J" {
		t.Error("static field identity wrong")
	}
	if s.AccessFlags&AccStatic == 0 {
		t.Error("static field must carry the static flag")
	}
	if len(def.StaticValues) != 1 || def.StaticValues[0].Int != 7 {
		t.Error("static value not recorded")
	}
}

func TestInterfacesAndSuper(t *testing.T) {
	f := testFile()
	defIdx, _ := f.FindClassDef("La/B;", 0)
	def := f.ClassDef(defIdx)
	if f.TypeDescriptor(def.SuperclassIdx) != "Ljava/lang/Object;" {
		t.Error("super descriptor wrong")
	}
	if len(def.InterfaceIdxs) != 1 || f.TypeDescriptor(def.InterfaceIdxs[0]) != "La/I;" {
		t.Error("interface list wrong")
	}
	ifDef := f.ClassDef(0).SuperclassIdx
	_ = ifDef
	iDefIdx, ok := f.FindClassDef("La/I;", 0)
	if !ok || f.ClassDef(iDefIdx).AccessFlags&AccInterface == 0 {
		t.Error("interface def wrong")
	}
}

func TestChecksumStable(t *testing.T) {
	a := testFile()
	b := testFile()
	if a.Checksum() != b.Checksum() {
		t.Error("identical content must produce identical checksums")
	}
	c := NewBuilder("test.slc")
	c.Class("La/Other;", AccPublic, "Ljava/lang/Object;")
	if a.Checksum() == c.MustBuild().Checksum() {
		t.Error("different content should produce different checksums")
	}
	var zero [32]byte
	if a.Checksum() == zero {
		t.Error("checksum must not be zero")
	}
}

func TestPrimitiveTypes(t *testing.T) {
	tests := []struct {
		c    byte
		kind PrimitiveType
		size int
	}{
		{'Z', PrimBoolean, 1}, {'B', PrimByte, 1}, {'C', PrimChar, 2},
		{'S', PrimShort, 2}, {'I', PrimInt, 4}, {'J', PrimLong, 8},
		{'F', PrimFloat, 4}, {'D', PrimDouble, 8}, {'V', PrimVoid, 0},
	}
	for _, tt := range tests {
		p, ok := PrimitiveForChar(tt.c)
		if !ok || p != tt.kind {
			t.Errorf("PrimitiveForChar(%c) = %v %v", tt.c, p, ok)
		}
		if p.ComponentSize() != tt.size {
			t.Errorf("size of %c = %d, want %d", tt.c, p.ComponentSize(), tt.size)
		}
		if p.Descriptor() != string(tt.c) {
			t.Errorf("descriptor of %v = %s", p, p.Descriptor())
		}
	}
	if _, ok := PrimitiveForChar('L'); ok {
		t.Error("references are not primitive")
	}
	if FieldSizeForDescriptor("Ljava/lang/Object;") != 8 || FieldSizeForDescriptor("[I") != 8 {
		t.Error("references and arrays are pointer-sized fields")
	}
}
