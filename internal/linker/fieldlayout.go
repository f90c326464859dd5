package linker

import (
	"sort"

	"github.com/karalabe/cookiejar/collections/prque"

	"github.com/tangzhangming/solar/internal/container"
	lerr "github.com/tangzhangming/solar/internal/errors"
	rt "github.com/tangzhangming/solar/internal/runtime"
)

// ============================================================================
// 字段布局
// ============================================================================
//
// 引用字段排在最前（按引用宽度对齐），其后按 8/4/2/1 从大到小放置
// 原始类型字段；对齐跳过的字节拆成 4/2/1 的对齐空洞记入优先队列，
// 放置前优先复用最大的够用空洞。贪心最大优先在 {8,4,2,1} 宽度集合
// 下是最优的，扩展其他宽度前需要重新证明。
//
// ============================================================================

// fieldGap 一个空洞
type fieldGap struct {
	startOffset uint32
	size        uint32 // 1、2 或 4
}

// 空洞偏移的表达上限；优先级编码要求偏移在 float32 的精确整数区间内
const maxGapOffset = 1 << 20

// gapPriority 空洞排序：宽度降序，同宽度偏移升序
func gapPriority(g fieldGap) float32 {
	return float32(g.size)*(1<<20) - float32(g.startOffset)
}

// addFieldGap 把 [start, end) 拆成最大对齐子空洞入队
func addFieldGap(start, end uint32, gaps *prque.Prque) {
	cur := start
	for cur != end {
		remaining := end - cur
		switch {
		case remaining >= 4 && isAligned(cur, 4):
			gaps.Push(fieldGap{startOffset: cur, size: 4}, gapPriority(fieldGap{cur, 4}))
			cur += 4
		case remaining >= 2 && isAligned(cur, 2):
			gaps.Push(fieldGap{startOffset: cur, size: 2}, gapPriority(fieldGap{cur, 2}))
			cur += 2
		default:
			gaps.Push(fieldGap{startOffset: cur, size: 1}, gapPriority(fieldGap{cur, 1}))
			cur++
		}
	}
}

// shuffleForward 放置所有宽度恰为 n 的字段，优先复用空洞
func shuffleForward(n uint32, fields *[]*ArtField, fieldOffset *uint32, gaps *prque.Prque) {
	for len(*fields) > 0 {
		field := (*fields)[0]
		if field.FieldSize() < n {
			break
		}
		if !isAligned(*fieldOffset, n) {
			old := *fieldOffset
			*fieldOffset = roundUp(*fieldOffset, n)
			addFieldGap(old, *fieldOffset, gaps)
		}
		*fields = (*fields)[1:]
		if !gaps.Empty() {
			item, _ := gaps.Pop()
			gap := item.(fieldGap)
			if gap.size >= n {
				field.SetOffset(gap.startOffset)
				if gap.size > n {
					addFieldGap(gap.startOffset+n, gap.startOffset+gap.size, gaps)
				}
				continue
			}
			// 最大空洞都不够宽，放回去
			gaps.Push(gap, gapPriority(gap))
		}
		field.SetOffset(*fieldOffset)
		*fieldOffset += n
	}
}

// linkFields 为一个类的实例或静态字段赋偏移
//
// 排序键：引用在前，其余按宽度降序；同宽度按容器字段索引升序，
// 保证布局跨构建稳定。
func (l *Linker) linkFields(self *rt.Thread, klass *Class, isStatic bool) (uint32, error) {
	self.AllowThreadSuspension()

	var fields []ArtField
	if isStatic {
		fields = klass.sfields
	} else {
		fields = klass.ifields
	}

	// 起始偏移：静态区跟在嵌入表后面；实例区接在父类对象之后
	var fieldOffset uint32
	if isStatic {
		fieldOffset = uint32(kClassBaseSize)
		if klass.ShouldHaveEmbeddedTables() {
			fieldOffset += kIMTSize*kPointerSize + uint32(len(klass.vtable))*kPointerSize
		}
	} else {
		if super := klass.super; super != nil {
			if !super.IsResolved() {
				return 0, lerr.Newf(lerr.KindInternal,
					"super %s of %s not resolved during field layout",
					super.PrettyName(), klass.PrettyName())
			}
			fieldOffset = super.objectSize
		} else {
			fieldOffset = kObjectHeaderSize
		}
	}

	self.StartAssertNoThreadSuspension()

	sorted := make([]*ArtField, len(fields))
	for i := range fields {
		sorted[i] = &fields[i]
	}
	sort.SliceStable(sorted, func(i, j int) bool {
		a, b := sorted[i], sorted[j]
		aRef, bRef := !a.IsPrimitiveType(), !b.IsPrimitiveType()
		if aRef != bRef {
			return aRef
		}
		if a.FieldSize() != b.FieldSize() {
			return a.FieldSize() > b.FieldSize()
		}
		return a.dexFieldIndex < b.dexFieldIndex
	})

	// 引用在最前
	numReferenceFields := uint32(0)
	gaps := prque.New()
	for len(sorted) > 0 {
		field := sorted[0]
		if field.IsPrimitiveType() {
			break
		}
		if !isAligned(fieldOffset, kHeapReferenceSize) {
			old := fieldOffset
			fieldOffset = roundUp(fieldOffset, kHeapReferenceSize)
			addFieldGap(old, fieldOffset, gaps)
		}
		sorted = sorted[1:]
		numReferenceFields++
		field.SetOffset(fieldOffset)
		fieldOffset += kHeapReferenceSize
	}

	// 空洞是最大堆，必须从大宽度往小宽度放置，否则填充会次优
	shuffleForward(8, &sorted, &fieldOffset, gaps)
	shuffleForward(4, &sorted, &fieldOffset, gaps)
	shuffleForward(2, &sorted, &fieldOffset, gaps)
	shuffleForward(1, &sorted, &fieldOffset, gaps)
	if len(sorted) != 0 {
		self.EndAssertNoThreadSuspension()
		return 0, lerr.Newf(lerr.KindInternal, "missed %d fields during layout", len(sorted))
	}
	self.EndAssertNoThreadSuspension()

	if fieldOffset >= maxGapOffset {
		return 0, lerr.Newf(lerr.KindClassFormat,
			"class %s too large: %d bytes", klass.PrettyName(), fieldOffset)
	}

	// 引用类的 referent 字段由 GC 特殊处理，从扫描位图中剔除
	if !isStatic && klass.descriptor == "Ljava/lang/ref/Reference;" {
		if numReferenceFields != uint32(len(fields)) {
			return 0, lerr.Newf(lerr.KindClassFormat,
				"reference class has unexpected primitive fields")
		}
		if len(fields) == 0 || fields[len(fields)-1].name != "referent" {
			return 0, lerr.Newf(lerr.KindClassFormat,
				"reference class referent field must be declared last")
		}
		numReferenceFields--
	}

	size := fieldOffset
	if isStatic {
		klass.numReferenceStaticFields = numReferenceFields
		return size, nil
	}

	klass.numReferenceInstanceFields = numReferenceFields
	if numReferenceFields == 0 || klass.super == nil {
		// 类指针由根扫描单独处理，不算引用字段
		if klass.super == nil || klass.super.classFlags&ClassFlagNoReferenceFields != 0 {
			klass.classFlags |= ClassFlagNoReferenceFields
		}
	}
	if !klass.IsVariableSize() {
		objectSize := roundUp(size, kObjectAlignment)
		if prev := klass.objectSize; prev != 0 && prev != objectSize {
			return 0, lerr.Newf(lerr.KindInternal,
				"object size drift for %s: %d then %d", klass.PrettyName(), prev, objectSize)
		}
		klass.SetObjectSize(objectSize)
	}
	return size, nil
}

// linkInstanceFields 实例字段布局
func (l *Linker) linkInstanceFields(self *rt.Thread, klass *Class) error {
	_, err := l.linkFields(self, klass, false)
	return err
}

// linkStaticFields 静态字段布局；返回类对象总大小
func (l *Linker) linkStaticFields(self *rt.Thread, klass *Class) (uint32, error) {
	return l.linkFields(self, klass, true)
}

// createReferenceInstanceOffsets 生成前导引用槽位图
//
// 位 i 覆盖偏移 header + i*引用宽度；超出 32 位时退回逐级遍历父类。
func (l *Linker) createReferenceInstanceOffsets(klass *Class) {
	var refOffsets uint32
	super := klass.super
	// 根对象类保持 0：类指针由根扫描处理
	if super != nil {
		refOffsets = super.referenceInstanceOffsets
		if refOffsets != kVisitReferencesWalkSuper {
			numRefs := klass.numReferenceInstanceFields
			if numRefs != 0 {
				startOffset := roundUp(super.objectSize, kHeapReferenceSize)
				startBit := (startOffset - kObjectHeaderSize) / kHeapReferenceSize
				if startBit+numRefs > 32 {
					refOffsets = kVisitReferencesWalkSuper
				} else {
					refOffsets |= (^uint32(0) << startBit) &
						(^uint32(0) >> (32 - (startBit + numRefs)))
				}
			}
		}
	}
	klass.referenceInstanceOffsets = refOffsets
}

// decodeStaticValue 容器常量 → 静态槽值
func (l *Linker) decodeStaticValue(f *container.File, v container.EncodedValue) rt.Value {
	switch v.Kind {
	case container.EncodedBool:
		return rt.NewBool(v.Bool)
	case container.EncodedInt:
		return rt.NewInt(v.Int)
	case container.EncodedFloat:
		return rt.NewFloat(v.Float)
	case container.EncodedString:
		return rt.NewString(l.internString(f.StringByIdx(v.StringIdx)))
	case container.EncodedType:
		// 类型常量懒解析：初始化路径用解析器替换
		return rt.NewString(f.TypeDescriptor(v.TypeIdx))
	default:
		return rt.NullValue
	}
}
