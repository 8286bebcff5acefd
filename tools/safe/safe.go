package safe

import (
	"os"
	"strconv"

	"LiveDesk/logger"
)

// Go starts a new goroutine that recovers from panic,
// so a misbehaving handler doesn't take the dispatcher process down.
func Go(name string, f func()) {
	go func() {
		defer func() {
			if r := recover(); r != nil {
				logger.Errorf("[%s] panic recovered: %v", name, r)
			}
		}()
		f()
	}()
}

// GetEnv 读取环境变量，空值回退默认。
func GetEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func GetEnvInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return i
}

func GetEnvBool(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}
