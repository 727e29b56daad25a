package util

import (
	"bufio"
	"os"
	"strings"
	"time"

	"github.com/spf13/cast"
)

// LoadEnv 按环境加载 .env 文件（.env.development / .env.production）
// 已存在的环境变量不会被覆盖
func LoadEnv(env string) error {
	filename := ".env." + env
	if _, err := os.Stat(filename); os.IsNotExist(err) {
		filename = ".env"
	}
	f, err := os.Open(filename)
	if err != nil {
		return err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		value = strings.Trim(strings.TrimSpace(value), `"'`)
		if _, exists := os.LookupEnv(key); !exists {
			os.Setenv(key, value)
		}
	}
	return scanner.Err()
}

func GetEnv(key string) string { return os.Getenv(key) }

func GetEnvDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func GetIntEnv(key string) int64 {
	return cast.ToInt64(os.Getenv(key))
}

func GetIntEnvDefault(key string, def int64) int64 {
	if v := os.Getenv(key); v != "" {
		return cast.ToInt64(v)
	}
	return def
}

func GetBoolEnv(key string) bool {
	return cast.ToBool(os.Getenv(key))
}

// GetDurationEnv 解析时间类型配置，支持 "30s"、"5m" 等格式
func GetDurationEnv(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	d := cast.ToDuration(v)
	if d <= 0 {
		return def
	}
	return d
}
