// Package errors 提供 Solar 类链接器的错误分类系统
package errors

// ============================================================================
// 错误种类
// ============================================================================

// Kind 链接错误种类
//
// 这些是领域层面的错误分类，不是托管堆中的异常对象。
// 每个 Kind 对应一个 L 开头的错误码，便于日志检索。
type Kind int

const (
	KindUnknown Kind = iota // 未分类（通常来自解释器回调）

	KindNoClassDefFound         // 描述符无法解析为类
	KindClassCircularity        // 当前线程重入解析同一个类
	KindClassFormat             // 容器内容形状非法（如方法数超限）
	KindIllegalAccess           // 链接期访问规则违例
	KindIncompatibleClassChange // 调用种类不匹配 / 默认方法冲突
	KindVerify                  // 校验器硬失败，或父类处于错误态
	KindLinkage                 // final 覆盖、跨加载器签名漂移等
	KindOutOfMemory             // 分配失败
	KindNoSuchMethod            // 方法解析找不到目标
	KindNoSuchField             // 字段解析找不到目标
	KindExceptionInInitializer  // <clinit> 抛出的非链接错误被包装
	KindInternal                // 链接器内部不变量被破坏
)

// ============================================================================
// 链接器错误码 (L 开头)
// ============================================================================

// 链接器错误码常量
const (
	// L0100-L0199: 查找/定义错误
	L0100 = "L0100" // 找不到类定义
	L0101 = "L0101" // 类解析环
	L0102 = "L0102" // 容器形状非法

	// L0200-L0299: 链接错误
	L0200 = "L0200" // 访问违例
	L0201 = "L0201" // 不兼容的类变更
	L0202 = "L0202" // 链接错误（final 覆盖等）
	L0203 = "L0203" // 校验失败

	// L0300-L0399: 解析错误
	L0300 = "L0300" // 找不到方法
	L0301 = "L0301" // 找不到字段

	// L0400-L0499: 初始化/资源错误
	L0400 = "L0400" // 静态初始化器异常
	L0401 = "L0401" // 内存不足
	L0402 = "L0402" // 内部错误
)

// codeOf Kind 到错误码的映射
func codeOf(k Kind) string {
	switch k {
	case KindNoClassDefFound:
		return L0100
	case KindClassCircularity:
		return L0101
	case KindClassFormat:
		return L0102
	case KindIllegalAccess:
		return L0200
	case KindIncompatibleClassChange:
		return L0201
	case KindLinkage:
		return L0202
	case KindVerify:
		return L0203
	case KindNoSuchMethod:
		return L0300
	case KindNoSuchField:
		return L0301
	case KindExceptionInInitializer:
		return L0400
	case KindOutOfMemory:
		return L0401
	case KindInternal:
		return L0402
	default:
		return "L0000"
	}
}

func (k Kind) String() string {
	switch k {
	case KindNoClassDefFound:
		return "NoClassDefFoundError"
	case KindClassCircularity:
		return "ClassCircularityError"
	case KindClassFormat:
		return "ClassFormatError"
	case KindIllegalAccess:
		return "IllegalAccessError"
	case KindIncompatibleClassChange:
		return "IncompatibleClassChangeError"
	case KindVerify:
		return "VerifyError"
	case KindLinkage:
		return "LinkageError"
	case KindOutOfMemory:
		return "OutOfMemoryError"
	case KindNoSuchMethod:
		return "NoSuchMethodError"
	case KindNoSuchField:
		return "NoSuchFieldError"
	case KindExceptionInInitializer:
		return "ExceptionInInitializerError"
	case KindInternal:
		return "InternalError"
	default:
		return "UnknownError"
	}
}
