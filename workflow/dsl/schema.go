package dsl

// Document 流水线文档顶层结构
type Document struct {
	// Name 流水线名称
	Name string `yaml:"name" json:"name"`

	// Env 全局静态环境变量，值可引用 ${axis}
	Env map[string]string `yaml:"env,omitempty" json:"env,omitempty"`

	// Axes 矩阵轴，按声明顺序展开
	Axes []AxisDef `yaml:"axes" json:"axes"`

	// Exclude 排除规则
	Exclude []map[string]string `yaml:"exclude,omitempty" json:"exclude,omitempty"`

	// Resources 稀缺资源准入规则
	Resources []ResourceDef `yaml:"resources,omitempty" json:"resources,omitempty"`

	// Coverage 覆盖率文件路径（相对作业目录）
	Coverage string `yaml:"coverage,omitempty" json:"coverage,omitempty"`

	// Cache 缓存键的轴映射
	Cache CacheDef `yaml:"cache,omitempty" json:"cache,omitempty"`

	// Steps 步骤模板
	Steps []StepDef `yaml:"steps" json:"steps"`
}

// AxisDef 轴定义
type AxisDef struct {
	Name   string   `yaml:"name" json:"name"`
	Values []string `yaml:"values" json:"values"`
	// Env 按轴取值附加的环境变量：value -> VAR -> 模板
	Env map[string]map[string]string `yaml:"env,omitempty" json:"env,omitempty"`
}

// ResourceDef 资源定义
type ResourceDef struct {
	Name  string            `yaml:"name" json:"name"`
	Limit int               `yaml:"limit" json:"limit"`
	Match map[string]string `yaml:"match,omitempty" json:"match,omitempty"`
}

// CacheDef 指定哪些轴作为缓存键的平台与运行时版本
type CacheDef struct {
	PlatformAxis string `yaml:"platform_axis,omitempty" json:"platform_axis,omitempty"`
	RuntimeAxis  string `yaml:"runtime_axis,omitempty" json:"runtime_axis,omitempty"`
}

// StepDef 步骤定义
type StepDef struct {
	Name     string            `yaml:"name" json:"name"`
	Run      string            `yaml:"run" json:"run"`
	If       string            `yaml:"if,omitempty" json:"if,omitempty"`
	Optional bool              `yaml:"optional,omitempty" json:"optional,omitempty"`
	Timeout  string            `yaml:"timeout,omitempty" json:"timeout,omitempty"` // Go duration, e.g. 20m
	Env      map[string]string `yaml:"env,omitempty" json:"env,omitempty"`
	Cache    *StepCacheDef     `yaml:"cache,omitempty" json:"cache,omitempty"`
}

// StepCacheDef 依赖获取步骤的缓存声明
type StepCacheDef struct {
	Key   string   `yaml:"key" json:"key"`
	Files []string `yaml:"files,omitempty" json:"files,omitempty"`
	Paths []string `yaml:"paths" json:"paths"`
}
