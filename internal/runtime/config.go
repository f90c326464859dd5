// Package runtime 提供类链接器依赖的运行时基础设施：
// 策略配置、线程标识、入口点桩和带标签的值表示。
package runtime

import (
	"fmt"
	"os"

	"github.com/pelletier/go-toml/v2"
)

// 常量定义
const (
	ConfigFileName = "solar.toml" // 运行时策略配置文件名
)

// Config 运行时策略配置
//
// 链接器在引导时读取一次，之后不再变化。
type Config struct {
	Runtime RuntimeOptions `toml:"runtime"`
	Verify  VerifyOptions  `toml:"verify"`
}

// RuntimeOptions 执行模式相关选项
type RuntimeOptions struct {
	// InterpretOnly 纯解释执行模式；native 与代理方法以外的方法都经解释器桥执行
	InterpretOnly bool `toml:"interpret_only"`

	// AotCompiler 当前进程是 AOT 编译器（影响软失败处理与入口点选择）
	AotCompiler bool `toml:"aot_compiler"`

	// ImagePath 预链接镜像路径（为空表示没有镜像）
	ImagePath string `toml:"image_path"`
}

// VerifyOptions 校验相关选项
type VerifyOptions struct {
	// Enabled 是否启用字节码校验
	Enabled bool `toml:"enabled"`

	// ForceSoftFail 强制把所有校验当作软失败（调试用途）
	ForceSoftFail bool `toml:"force_soft_fail"`
}

// DefaultConfig 生成默认配置
func DefaultConfig() *Config {
	return &Config{
		Verify: VerifyOptions{Enabled: true},
	}
}

// LoadConfig 从文件加载配置
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := DefaultConfig()
	if err := toml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return config, nil
}
