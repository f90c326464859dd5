package container

import (
	"fmt"
	"strings"
)

// ============================================================================
// 容器构建器
// ============================================================================

// Builder 以编程方式组装一个容器
//
// 引导用的核心容器和测试夹具都经由这里构建；
// 索引表自动去重，类数据保持"字段在前、直接方法在虚方法前"的次序。
type Builder struct {
	location string
	f        File

	stringIdx map[string]uint32
	typeIdx   map[string]uint32
	protoIdx  map[string]uint32
	methodIdx map[string]uint32
	fieldIdx  map[string]uint32
}

// NewBuilder 创建构建器
func NewBuilder(location string) *Builder {
	return &Builder{
		location:  location,
		stringIdx: make(map[string]uint32),
		typeIdx:   make(map[string]uint32),
		protoIdx:  make(map[string]uint32),
		methodIdx: make(map[string]uint32),
		fieldIdx:  make(map[string]uint32),
	}
}

// InternString 字符串入池
func (b *Builder) InternString(s string) uint32 {
	if idx, ok := b.stringIdx[s]; ok {
		return idx
	}
	idx := uint32(len(b.f.strings))
	b.f.strings = append(b.f.strings, s)
	b.stringIdx[s] = idx
	return idx
}

// Type 类型入表
func (b *Builder) Type(descriptor string) uint32 {
	if idx, ok := b.typeIdx[descriptor]; ok {
		return idx
	}
	idx := uint32(len(b.f.typeIDs))
	b.f.typeIDs = append(b.f.typeIDs, TypeID{DescriptorIdx: b.InternString(descriptor)})
	b.typeIdx[descriptor] = idx
	return idx
}

// shortyChar 描述符 → 短签名字符
func shortyChar(descriptor string) byte {
	if descriptor == "" {
		return 'V'
	}
	c := descriptor[0]
	if _, ok := PrimitiveForChar(c); ok && len(descriptor) == 1 {
		return c
	}
	return 'L'
}

// Proto 原型入表
func (b *Builder) Proto(ret string, params ...string) uint32 {
	key := ret + "|" + strings.Join(params, ",")
	if idx, ok := b.protoIdx[key]; ok {
		return idx
	}
	var shorty strings.Builder
	shorty.WriteByte(shortyChar(ret))
	paramIdxs := make([]uint32, 0, len(params))
	for _, p := range params {
		shorty.WriteByte(shortyChar(p))
		paramIdxs = append(paramIdxs, b.Type(p))
	}
	idx := uint32(len(b.f.protoIDs))
	b.f.protoIDs = append(b.f.protoIDs, ProtoID{
		Shorty:        shorty.String(),
		ReturnTypeIdx: b.Type(ret),
		ParamTypeIdxs: paramIdxs,
	})
	b.protoIdx[key] = idx
	return idx
}

// MethodRef 方法入表
func (b *Builder) MethodRef(classDesc, name, ret string, params ...string) uint32 {
	key := classDesc + "." + name + "(" + strings.Join(params, ",") + ")" + ret
	if idx, ok := b.methodIdx[key]; ok {
		return idx
	}
	idx := uint32(len(b.f.methodIDs))
	b.f.methodIDs = append(b.f.methodIDs, MethodID{
		ClassIdx: b.Type(classDesc),
		ProtoIdx: b.Proto(ret, params...),
		NameIdx:  b.InternString(name),
	})
	b.methodIdx[key] = idx
	return idx
}

// FieldRef 字段入表
func (b *Builder) FieldRef(classDesc, name, typeDesc string) uint32 {
	key := classDesc + "." + name + ":" + typeDesc
	if idx, ok := b.fieldIdx[key]; ok {
		return idx
	}
	idx := uint32(len(b.f.fieldIDs))
	b.f.fieldIDs = append(b.f.fieldIDs, FieldID{
		ClassIdx: b.Type(classDesc),
		TypeIdx:  b.Type(typeDesc),
		NameIdx:  b.InternString(name),
	})
	b.fieldIdx[key] = idx
	return idx
}

// Build 固化为只读容器
func (b *Builder) Build() (*File, error) {
	return newFile(b.location, b.f)
}

// MustBuild 构建失败直接 panic（测试与引导夹具使用）
func (b *Builder) MustBuild() *File {
	f, err := b.Build()
	if err != nil {
		panic(fmt.Sprintf("container build failed: %v", err))
	}
	return f
}

// ============================================================================
// 类定义构建器
// ============================================================================

// ClassBuilder 组装单个类定义
type ClassBuilder struct {
	b      *Builder
	defIdx int
	desc   string
}

// Class 开始一个类定义
//
// superDesc 为空表示没有父类（只有根对象类允许）。
func (b *Builder) Class(descriptor string, accessFlags uint32, superDesc string, ifaceDescs ...string) *ClassBuilder {
	def := ClassDef{
		ClassIdx:      b.Type(descriptor),
		AccessFlags:   accessFlags,
		SuperclassIdx: NoIndex,
	}
	if superDesc != "" {
		def.SuperclassIdx = b.Type(superDesc)
	}
	for _, ifc := range ifaceDescs {
		def.InterfaceIdxs = append(def.InterfaceIdxs, b.Type(ifc))
	}
	b.f.classDefs = append(b.f.classDefs, def)
	return &ClassBuilder{b: b, defIdx: len(b.f.classDefs) - 1, desc: descriptor}
}

func (cb *ClassBuilder) def() *ClassDef { return &cb.b.f.classDefs[cb.defIdx] }

// SourceFile 设置源文件名
func (cb *ClassBuilder) SourceFile(name string) *ClassBuilder {
	cb.def().SourceFile = name
	return cb
}

// StaticField 声明静态字段
func (cb *ClassBuilder) StaticField(name, typeDesc string, flags uint32) *ClassBuilder {
	idx := cb.b.FieldRef(cb.desc, name, typeDesc)
	cb.def().StaticFields = append(cb.def().StaticFields, EncodedField{
		FieldIdx:    idx,
		AccessFlags: flags | AccStatic,
	})
	return cb
}

// InstanceField 声明实例字段
func (cb *ClassBuilder) InstanceField(name, typeDesc string, flags uint32) *ClassBuilder {
	idx := cb.b.FieldRef(cb.desc, name, typeDesc)
	cb.def().InstanceFields = append(cb.def().InstanceFields, EncodedField{
		FieldIdx:    idx,
		AccessFlags: flags,
	})
	return cb
}

// methodWithCode 非抽象、非 native 的方法挂一个空方法体
func methodWithCode(idx uint32, flags uint32) EncodedMethod {
	m := EncodedMethod{MethodIdx: idx, AccessFlags: flags}
	if flags&(AccAbstract|AccNative) == 0 {
		m.Code = &CodeItem{RegistersSize: 1, Insns: []byte{0x0e}} // return-void
	}
	return m
}

// DirectMethod 声明直接方法（构造器、私有、静态）
func (cb *ClassBuilder) DirectMethod(name string, flags uint32, ret string, params ...string) *ClassBuilder {
	if name == "<init>" || name == "<clinit>" {
		flags |= AccConstructor
	}
	idx := cb.b.MethodRef(cb.desc, name, ret, params...)
	cb.def().DirectMethods = append(cb.def().DirectMethods, methodWithCode(idx, flags))
	return cb
}

// VirtualMethod 声明虚方法
func (cb *ClassBuilder) VirtualMethod(name string, flags uint32, ret string, params ...string) *ClassBuilder {
	idx := cb.b.MethodRef(cb.desc, name, ret, params...)
	cb.def().VirtualMethods = append(cb.def().VirtualMethods, methodWithCode(idx, flags))
	return cb
}

// StaticValue 追加一个静态字段常量初始值
//
// 与 StaticFields 的声明顺序前缀对应。
func (cb *ClassBuilder) StaticValue(v EncodedValue) *ClassBuilder {
	cb.def().StaticValues = append(cb.def().StaticValues, v)
	return cb
}

// StaticInt / StaticString 常用初始值的便捷形式
func (cb *ClassBuilder) StaticInt(n int64) *ClassBuilder {
	return cb.StaticValue(EncodedValue{Kind: EncodedInt, Int: n})
}

func (cb *ClassBuilder) StaticString(s string) *ClassBuilder {
	return cb.StaticValue(EncodedValue{Kind: EncodedString, StringIdx: cb.b.InternString(s)})
}
