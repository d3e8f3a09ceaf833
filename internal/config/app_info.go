package config

import (
	"runtime"
	"time"
)

// 构建时通过 -ldflags "-X rulequery-go/internal/config.Version=..." 注入
var (
	Version   = "0.1.0"
	GitCommit = "unknown"
	BuildTime = ""
)

// AppInfo 应用信息，/version 接口直接返回
type AppInfo struct {
	Name        string `json:"name" mapstructure:"name"`
	Version     string `json:"version" mapstructure:"version"`
	BuildTime   string `json:"build_time" mapstructure:"build_time"`
	GitCommit   string `json:"git_commit" mapstructure:"git_commit"`
	GoVersion   string `json:"go_version" mapstructure:"-"`
	Environment string `json:"environment" mapstructure:"environment"`
}

// DefaultAppInfo 默认应用信息
func DefaultAppInfo() *AppInfo {
	return NewAppInfo("rulequery-api", Version, BuildTime, GitCommit, "development")
}

// NewAppInfo 创建应用信息，buildTime为空时取当前时间
func NewAppInfo(name, version, buildTime, gitCommit, environment string) *AppInfo {
	if buildTime == "" {
		buildTime = time.Now().UTC().Format(time.RFC3339)
	}
	return &AppInfo{
		Name:        name,
		Version:     version,
		BuildTime:   buildTime,
		GitCommit:   gitCommit,
		GoVersion:   runtime.Version(),
		Environment: environment,
	}
}

// IsProduction 是否生产环境
func (a *AppInfo) IsProduction() bool {
	return a.Environment == "production"
}

// GetBuildInfo 构建信息
func (a *AppInfo) GetBuildInfo() map[string]any {
	return map[string]any{
		"name":        a.Name,
		"version":     a.Version,
		"build_time":  a.BuildTime,
		"git_commit":  a.GitCommit,
		"go_version":  a.GoVersion,
		"environment": a.Environment,
	}
}
