package config

import (
	"errors"
	"fmt"
	"io/fs"

	"github.com/joho/godotenv"
)

// LoadEnv 从.env文件加载环境变量，已存在的环境变量不会被覆盖
// 文件不存在时返回(false, nil)
func LoadEnv(paths ...string) (bool, error) {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	loaded := false
	for _, p := range paths {
		if err := godotenv.Load(p); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return loaded, fmt.Errorf("加载环境变量文件%s失败: %w", p, err)
		}
		loaded = true
	}
	return loaded, nil
}
