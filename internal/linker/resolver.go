package linker

import (
	"github.com/tangzhangming/solar/internal/container"
	lerr "github.com/tangzhangming/solar/internal/errors"
	rt "github.com/tangzhangming/solar/internal/runtime"
)

// ============================================================================
// 解析器
// ============================================================================
//
// 所有 resolve_* 先打对应容器的解析缓存，未命中再走查找，命中后回填。
// 并发解析同一索引得到按身份相同的结果，后写者以相同值覆盖。
//
// ============================================================================

// ResolveString 字符串索引 → 驻留字符串
func (l *Linker) ResolveString(f *container.File, stringIdx uint32) (string, error) {
	cache := l.FindDexCache(f)
	if cache == nil {
		return "", lerr.Newf(lerr.KindInternal, "container %s not registered", f.Location())
	}
	if s, ok := cache.ResolvedString(stringIdx); ok {
		return s, nil
	}
	if int(stringIdx) >= f.NumStrings() {
		return "", lerr.Newf(lerr.KindClassFormat, "bad string index %d in %s", stringIdx, f.Location())
	}
	s := l.internString(f.StringByIdx(stringIdx))
	cache.SetResolvedString(stringIdx, s)
	return s, nil
}

// ResolveType 类型索引 → 类
//
// 目标找不到时，类未找到被提升为找不到类定义，原因保留在因果链上。
func (l *Linker) ResolveType(self *rt.Thread, f *container.File, typeIdx uint32, referrer *Class) (*Class, error) {
	return l.ResolveTypeWithLoader(self, f, typeIdx, referrer.dexCache, referrer.loader)
}

// ResolveTypeWithLoader 指定缓存与加载器的类型解析
func (l *Linker) ResolveTypeWithLoader(self *rt.Thread, f *container.File, typeIdx uint32, cache *DexCache, loader *ClassLoader) (*Class, error) {
	if cache == nil {
		return nil, lerr.Newf(lerr.KindInternal, "type resolution without dex cache")
	}
	if resolved := cache.ResolvedType(typeIdx); resolved != nil {
		return resolved, nil
	}
	descriptor := f.TypeDescriptor(typeIdx)
	if descriptor == "" {
		return nil, lerr.Newf(lerr.KindClassFormat, "bad type index %d in %s", typeIdx, f.Location())
	}
	resolved, err := l.FindClass(self, descriptor, loader)
	if err != nil {
		if lerr.KindOf(err) == lerr.KindNoClassDefFound {
			// 类未找到 → 找不到类定义，原错误作为原因
			return nil, lerr.Wrapf(lerr.KindNoClassDefFound, err, "failed resolution of: %s", descriptor)
		}
		return nil, err
	}
	if resolved.IsResolved() || resolved.IsErroneous() {
		cache.SetResolvedType(typeIdx, resolved)
	}
	return resolved, nil
}

// ============================================================================
// 方法解析
// ============================================================================

// findMethodForKind 在目标类上按调用种类找方法
func findMethodForKind(klass *Class, name, signature string, kind InvokeKind) *ArtMethod {
	switch kind {
	case InvokeDirect, InvokeStatic:
		return klass.FindDirectMethod(name, signature)
	case InvokeInterface:
		return klass.FindInterfaceMethod(name, signature)
	case InvokeSuper, InvokeVirtual:
		return klass.FindVirtualMethod(name, signature)
	default:
		return nil
	}
}

// ResolveMethod 方法索引 → 方法，带调用种类检查
func (l *Linker) ResolveMethod(self *rt.Thread, f *container.File, methodIdx uint32, loader *ClassLoader, referrer *ArtMethod, kind InvokeKind) (*ArtMethod, error) {
	cache := l.FindDexCache(f)
	if cache == nil {
		return nil, lerr.Newf(lerr.KindInternal, "container %s not registered", f.Location())
	}
	if resolved := cache.ResolvedMethod(methodIdx); resolved != nil && !resolved.IsRuntimeMethod() {
		// 缓存命中同样做调用种类检查
		if resolved.CheckIncompatibleClassChange(kind) {
			return nil, lerr.Newf(lerr.KindIncompatibleClassChange,
				"the method %s.%s%s was expected to be of kind %s but instead was found to be of kind %s",
				resolved.declaringClass.PrettyName(), resolved.name, resolved.signature, kind, resolved.InvokeType())
		}
		return resolved, nil
	}
	mid, ok := f.MethodID(methodIdx)
	if !ok {
		return nil, lerr.Newf(lerr.KindClassFormat, "bad method index %d in %s", methodIdx, f.Location())
	}
	klass, err := l.ResolveTypeWithLoader(self, f, mid.ClassIdx, cache, loader)
	if err != nil {
		return nil, err
	}
	name := f.MethodName(methodIdx)
	signature := f.MethodSignature(methodIdx)

	resolved := findMethodForKind(klass, name, signature, kind)
	if resolved != nil && resolved.IsDefaultConflicting() {
		// 链接期记录的默认方法冲突推迟到这里才报
		return nil, lerr.Newf(lerr.KindIncompatibleClassChange,
			"conflicting default method implementations of %s%s for %s",
			name, signature, klass.PrettyName())
	}
	if resolved != nil && !resolved.CheckIncompatibleClassChange(kind) {
		cache.SetResolvedMethod(methodIdx, resolved)
		return resolved, nil
	}

	if resolved != nil {
		// 找到了但调用种类不符
		return nil, lerr.Newf(lerr.KindIncompatibleClassChange,
			"the method %s.%s%s was expected to be of kind %s but instead was found to be of kind %s",
			klass.PrettyName(), name, signature, kind, resolved.InvokeType())
	}

	// 没找到：换一侧再找，区分访问错误、类变更错误与找不到方法
	switch kind {
	case InvokeDirect, InvokeStatic:
		resolved = klass.FindVirtualMethod(name, signature)
	case InvokeInterface, InvokeVirtual, InvokeSuper:
		resolved = klass.FindDirectMethod(name, signature)
	}

	if resolved != nil && referrer != nil {
		referring := referrer.declaringClass
		if referring != nil {
			if !referring.CanAccess(resolved.declaringClass) {
				return nil, lerr.Newf(lerr.KindIllegalAccess,
					"illegal class access to %s from %s during %s dispatch",
					resolved.declaringClass.PrettyName(), referring.PrettyName(), kind)
			}
			if !referring.CanAccessMember(resolved.declaringClass, resolved.accessFlags) {
				return nil, lerr.Newf(lerr.KindIllegalAccess,
					"method %s.%s is inaccessible to class %s",
					resolved.declaringClass.PrettyName(), resolved.name, referring.PrettyName())
			}
		}
	}

	switch kind {
	case InvokeDirect, InvokeStatic:
		if resolved != nil {
			return nil, l.incompatibleKindError(kind, InvokeVirtual, resolved)
		}
		if m := klass.FindInterfaceMethod(name, signature); m != nil {
			return nil, l.incompatibleKindError(kind, InvokeInterface, m)
		}
	case InvokeInterface:
		if resolved != nil {
			return nil, l.incompatibleKindError(kind, InvokeDirect, resolved)
		}
		if m := klass.FindVirtualMethod(name, signature); m != nil {
			return nil, l.incompatibleKindError(kind, InvokeVirtual, m)
		}
	case InvokeSuper:
		if resolved != nil {
			return nil, l.incompatibleKindError(kind, InvokeDirect, resolved)
		}
	case InvokeVirtual:
		if resolved != nil {
			return nil, l.incompatibleKindError(kind, InvokeDirect, resolved)
		}
		if m := klass.FindInterfaceMethod(name, signature); m != nil {
			return nil, l.incompatibleKindError(kind, InvokeInterface, m)
		}
	}
	return nil, lerr.Newf(lerr.KindNoSuchMethod,
		"no %s method %s%s in class %s", kind, name, signature, klass.PrettyName())
}

// incompatibleKindError 调用种类不匹配的类变更错误
func (l *Linker) incompatibleKindError(expected, found InvokeKind, m *ArtMethod) error {
	return lerr.Newf(lerr.KindIncompatibleClassChange,
		"the method %s.%s was expected to be of kind %s but instead was found to be of kind %s",
		m.declaringClass.PrettyName(), m.name, expected, found)
}

// ResolveMethodNoChecks 不区分调用种类的解析（内部路径）
func (l *Linker) ResolveMethodNoChecks(self *rt.Thread, f *container.File, methodIdx uint32, loader *ClassLoader) (*ArtMethod, error) {
	cache := l.FindDexCache(f)
	if cache == nil {
		return nil, lerr.Newf(lerr.KindInternal, "container %s not registered", f.Location())
	}
	if resolved := cache.ResolvedMethod(methodIdx); resolved != nil && !resolved.IsRuntimeMethod() {
		return resolved, nil
	}
	mid, ok := f.MethodID(methodIdx)
	if !ok {
		return nil, lerr.Newf(lerr.KindClassFormat, "bad method index %d in %s", methodIdx, f.Location())
	}
	klass, err := l.ResolveTypeWithLoader(self, f, mid.ClassIdx, cache, loader)
	if err != nil {
		return nil, err
	}
	name := f.MethodName(methodIdx)
	signature := f.MethodSignature(methodIdx)
	resolved := klass.FindDirectMethod(name, signature)
	if resolved == nil {
		resolved = klass.FindVirtualMethod(name, signature)
	}
	if resolved != nil {
		cache.SetResolvedMethod(methodIdx, resolved)
	}
	return resolved, nil
}

// ============================================================================
// 字段解析
// ============================================================================

// ResolveField 字段索引 → 字段
func (l *Linker) ResolveField(self *rt.Thread, f *container.File, fieldIdx uint32, loader *ClassLoader, isStatic bool) (*ArtField, error) {
	cache := l.FindDexCache(f)
	if cache == nil {
		return nil, lerr.Newf(lerr.KindInternal, "container %s not registered", f.Location())
	}
	if resolved := cache.ResolvedField(fieldIdx); resolved != nil {
		// 缓存命中同样检查静态性
		if resolved.IsStatic() != isStatic {
			expected := "static"
			if !isStatic {
				expected = "instance"
			}
			return nil, lerr.Newf(lerr.KindIncompatibleClassChange,
				"expected field %s.%s to be %s", resolved.declaringClass.PrettyName(), f.FieldName(fieldIdx), expected)
		}
		return resolved, nil
	}
	fid, ok := f.FieldID(fieldIdx)
	if !ok {
		return nil, lerr.Newf(lerr.KindClassFormat, "bad field index %d in %s", fieldIdx, f.Location())
	}
	klass, err := l.ResolveTypeWithLoader(self, f, fid.ClassIdx, cache, loader)
	if err != nil {
		return nil, err
	}
	name := f.FieldName(fieldIdx)

	// 先按声明类上的容器索引，再退化为按名字跨容器找
	var resolved *ArtField
	if r := klass.findDeclaredFieldByIndex(cache, fieldIdx, isStatic); r != nil {
		resolved = r
	} else if isStatic {
		resolved = klass.FindStaticField(name)
	} else {
		resolved = klass.FindInstanceField(name)
	}
	if resolved == nil {
		// 静态性相反的一侧存在即为类变更错误
		var other *ArtField
		if isStatic {
			other = klass.FindInstanceField(name)
		} else {
			other = klass.FindStaticField(name)
		}
		if other != nil {
			expected := "static"
			if !isStatic {
				expected = "instance"
			}
			return nil, lerr.Newf(lerr.KindIncompatibleClassChange,
				"expected field %s.%s to be %s", klass.PrettyName(), name, expected)
		}
		return nil, lerr.Newf(lerr.KindNoSuchField,
			"no field %s in class %s", name, klass.PrettyName())
	}
	cache.SetResolvedField(fieldIdx, resolved)
	return resolved, nil
}
