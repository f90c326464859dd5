package container

// ============================================================================
// 访问标志（容器格式层）
// ============================================================================

// 类、方法、字段共用的访问标志位
const (
	AccPublic       uint32 = 0x0001
	AccPrivate      uint32 = 0x0002
	AccProtected    uint32 = 0x0004
	AccStatic       uint32 = 0x0008
	AccFinal        uint32 = 0x0010
	AccSynchronized uint32 = 0x0020
	AccVolatile     uint32 = 0x0040
	AccTransient    uint32 = 0x0080
	AccNative       uint32 = 0x0100
	AccInterface    uint32 = 0x0200
	AccAbstract     uint32 = 0x0400
	AccStrict       uint32 = 0x0800
	AccSynthetic    uint32 = 0x1000

	// AccConstructor 容器格式补充标志：构造器（含 <clinit>）
	AccConstructor uint32 = 0x0001_0000

	// AccJavaFlagsMask 源语言可见的标志位
	AccJavaFlagsMask uint32 = 0xFFFF
)
