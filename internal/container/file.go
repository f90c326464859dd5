package container

import (
	"encoding/binary"
	"strings"

	lru "github.com/hashicorp/golang-lru"
	"github.com/pkg/errors"
	"golang.org/x/crypto/blake2b"
)

// 类定义查找备忘录的容量
const classDefCacheSize = 128

// File 一个已打开的容器
//
// 所有查询都是只读的，可以被多个线程并发调用。
type File struct {
	location string
	checksum [32]byte

	strings   []string
	typeIDs   []TypeID
	protoIDs  []ProtoID
	methodIDs []MethodID
	fieldIDs  []FieldID
	classDefs []ClassDef

	// defCache 描述符 → 类定义索引的备忘录；容器大时避免反复线性扫描
	defCache *lru.Cache
}

// newFile Builder 构建完成时调用
func newFile(location string, f File) (*File, error) {
	cache, err := lru.New(classDefCacheSize)
	if err != nil {
		return nil, errors.Wrap(err, "alloc class def cache")
	}
	out := f
	out.location = location
	out.defCache = cache
	out.checksum = computeChecksum(&out)
	return &out, nil
}

// Location 容器来源（日志与错误消息用）
func (f *File) Location() string { return f.location }

// Checksum 容器内容校验和
func (f *File) Checksum() [32]byte { return f.checksum }

// ============================================================================
// 池与表的查询
// ============================================================================

// NumStrings 字符串池大小
func (f *File) NumStrings() int { return len(f.strings) }

// NumTypes 类型表大小
func (f *File) NumTypes() int { return len(f.typeIDs) }

// NumMethods 方法表大小
func (f *File) NumMethods() int { return len(f.methodIDs) }

// NumFields 字段表大小
func (f *File) NumFields() int { return len(f.fieldIDs) }

// NumClassDefs 类定义数量
func (f *File) NumClassDefs() int { return len(f.classDefs) }

// StringByIdx 取字符串池条目；越界返回空串
func (f *File) StringByIdx(idx uint32) string {
	if int(idx) >= len(f.strings) {
		return ""
	}
	return f.strings[idx]
}

// TypeDescriptor 类型表索引 → 描述符
func (f *File) TypeDescriptor(typeIdx uint32) string {
	if int(typeIdx) >= len(f.typeIDs) {
		return ""
	}
	return f.StringByIdx(f.typeIDs[typeIdx].DescriptorIdx)
}

// MethodID 方法表条目
func (f *File) MethodID(methodIdx uint32) (MethodID, bool) {
	if int(methodIdx) >= len(f.methodIDs) {
		return MethodID{}, false
	}
	return f.methodIDs[methodIdx], true
}

// FieldID 字段表条目
func (f *File) FieldID(fieldIdx uint32) (FieldID, bool) {
	if int(fieldIdx) >= len(f.fieldIDs) {
		return FieldID{}, false
	}
	return f.fieldIDs[fieldIdx], true
}

// MethodName 方法名
func (f *File) MethodName(methodIdx uint32) string {
	mid, ok := f.MethodID(methodIdx)
	if !ok {
		return ""
	}
	return f.StringByIdx(mid.NameIdx)
}

// MethodSignature 方法签名，形如 "(ILjava/lang/String;)V"
func (f *File) MethodSignature(methodIdx uint32) string {
	mid, ok := f.MethodID(methodIdx)
	if !ok || int(mid.ProtoIdx) >= len(f.protoIDs) {
		return ""
	}
	proto := &f.protoIDs[mid.ProtoIdx]
	var sb strings.Builder
	sb.WriteByte('(')
	for _, p := range proto.ParamTypeIdxs {
		sb.WriteString(f.TypeDescriptor(p))
	}
	sb.WriteByte(')')
	sb.WriteString(f.TypeDescriptor(proto.ReturnTypeIdx))
	return sb.String()
}

// MethodShorty 短签名
func (f *File) MethodShorty(methodIdx uint32) string {
	mid, ok := f.MethodID(methodIdx)
	if !ok || int(mid.ProtoIdx) >= len(f.protoIDs) {
		return ""
	}
	return f.protoIDs[mid.ProtoIdx].Shorty
}

// MethodClassDescriptor 方法声明类的描述符
func (f *File) MethodClassDescriptor(methodIdx uint32) string {
	mid, ok := f.MethodID(methodIdx)
	if !ok {
		return ""
	}
	return f.TypeDescriptor(mid.ClassIdx)
}

// FieldName 字段名
func (f *File) FieldName(fieldIdx uint32) string {
	fid, ok := f.FieldID(fieldIdx)
	if !ok {
		return ""
	}
	return f.StringByIdx(fid.NameIdx)
}

// FieldTypeDescriptor 字段类型描述符
func (f *File) FieldTypeDescriptor(fieldIdx uint32) string {
	fid, ok := f.FieldID(fieldIdx)
	if !ok {
		return ""
	}
	return f.TypeDescriptor(fid.TypeIdx)
}

// ClassDef 取类定义
func (f *File) ClassDef(defIdx int32) *ClassDef {
	if defIdx < 0 || int(defIdx) >= len(f.classDefs) {
		return nil
	}
	return &f.classDefs[defIdx]
}

// FindTypeIdx 描述符 → 类型表索引
func (f *File) FindTypeIdx(descriptor string) (uint32, bool) {
	for i := range f.typeIDs {
		if f.StringByIdx(f.typeIDs[i].DescriptorIdx) == descriptor {
			return uint32(i), true
		}
	}
	return 0, false
}

// FindClassDef 按描述符查找类定义
//
// hash 由调用方用修改版 UTF-8 散列计算；本实现以描述符为准，
// 不使用 hash（备忘录也只以描述符为键），避免不同散列实现间的歧义。
func (f *File) FindClassDef(descriptor string, hash uint32) (int32, bool) {
	_ = hash
	if v, ok := f.defCache.Get(descriptor); ok {
		idx := v.(int32)
		if idx < 0 {
			return -1, false
		}
		return idx, true
	}
	for i := range f.classDefs {
		if f.TypeDescriptor(f.classDefs[i].ClassIdx) == descriptor {
			f.defCache.Add(descriptor, int32(i))
			return int32(i), true
		}
	}
	f.defCache.Add(descriptor, int32(-1))
	return -1, false
}

// ============================================================================
// 校验和
// ============================================================================

// computeChecksum 对容器内容做稳定序列化后取 BLAKE2b-256
func computeChecksum(f *File) [32]byte {
	h, _ := blake2b.New256(nil)
	var buf [4]byte
	writeInt := func(n int) {
		binary.LittleEndian.PutUint32(buf[:], uint32(n))
		h.Write(buf[:])
	}
	h.Write([]byte(f.location))
	writeInt(len(f.strings))
	for _, s := range f.strings {
		writeInt(len(s))
		h.Write([]byte(s))
	}
	writeInt(len(f.typeIDs))
	writeInt(len(f.protoIDs))
	writeInt(len(f.methodIDs))
	writeInt(len(f.fieldIDs))
	writeInt(len(f.classDefs))
	for i := range f.classDefs {
		def := &f.classDefs[i]
		writeInt(int(def.ClassIdx))
		writeInt(int(def.AccessFlags))
		writeInt(len(def.StaticFields) + len(def.InstanceFields))
		writeInt(len(def.DirectMethods) + len(def.VirtualMethods))
	}
	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out
}
