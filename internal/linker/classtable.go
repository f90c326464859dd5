package linker

// ============================================================================
// 类表
// ============================================================================

// generation 类表的一代
//
// 快照冻结后旧代不再插入；桶内按描述符串相等消解散列冲突。
type generation struct {
	buckets map[uint32][]*Class
	count   int
}

func newGeneration() *generation {
	return &generation{buckets: make(map[uint32][]*Class)}
}

// ClassTable 每加载器一张的类集合
//
// 所有操作由链接器的 class_loaders 锁保护：读方持读锁，写方持写锁。
type ClassTable struct {
	// generations 旧代在前；最后一代接收插入
	generations []*generation
}

// NewClassTable 创建类表
func NewClassTable() *ClassTable {
	return &ClassTable{generations: []*generation{newGeneration()}}
}

// Lookup 按描述符与散列查找
func (t *ClassTable) Lookup(descriptor string, hash uint32) *Class {
	for i := len(t.generations) - 1; i >= 0; i-- {
		for _, c := range t.generations[i].buckets[hash] {
			if c.descriptor == descriptor {
				return c
			}
		}
	}
	return nil
}

// Insert 插入一个类；已存在同描述符条目时返回 false
func (t *ClassTable) Insert(klass *Class, hash uint32) bool {
	if t.Lookup(klass.descriptor, hash) != nil {
		return false
	}
	g := t.generations[len(t.generations)-1]
	g.buckets[hash] = append(g.buckets[hash], klass)
	g.count++
	return true
}

// Update 用终态类替换临时类，返回被替换的条目
//
// 替换发生在持有新旧两个类监视器的退役窗口内。
func (t *ClassTable) Update(descriptor string, hash uint32, klass *Class) *Class {
	for i := len(t.generations) - 1; i >= 0; i-- {
		g := t.generations[i]
		bucket := g.buckets[hash]
		for j, c := range bucket {
			if c.descriptor == descriptor {
				bucket[j] = klass
				return c
			}
		}
	}
	// 不存在旧条目时退化为插入
	g := t.generations[len(t.generations)-1]
	g.buckets[hash] = append(g.buckets[hash], klass)
	g.count++
	return nil
}

// Remove 删除一个描述符的条目
func (t *ClassTable) Remove(descriptor string, hash uint32) bool {
	for i := len(t.generations) - 1; i >= 0; i-- {
		g := t.generations[i]
		bucket := g.buckets[hash]
		for j, c := range bucket {
			if c.descriptor == descriptor {
				g.buckets[hash] = append(bucket[:j], bucket[j+1:]...)
				g.count--
				return true
			}
		}
	}
	return false
}

// Visit 遍历所有代的所有类；visitor 返回 false 提前终止
func (t *ClassTable) Visit(visitor func(*Class) bool) bool {
	for _, g := range t.generations {
		for _, bucket := range g.buckets {
			for _, c := range bucket {
				if !visitor(c) {
					return false
				}
			}
		}
	}
	return true
}

// FreezeSnapshot 冻结当前内容
//
// 既有条目全部归入旧代，此后的插入进入新代；查找仍然看到全部代。
func (t *ClassTable) FreezeSnapshot() {
	t.generations = append(t.generations, newGeneration())
}

// NumZygoteClasses 冻结快照里的类数
func (t *ClassTable) NumZygoteClasses() int {
	n := 0
	for i := 0; i < len(t.generations)-1; i++ {
		n += t.generations[i].count
	}
	return n
}

// NumNonZygoteClasses 冻结之后插入的类数
func (t *ClassTable) NumNonZygoteClasses() int {
	return t.generations[len(t.generations)-1].count
}
