// Package log 初始化进程级 zerolog 日志器。
package log

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Init 按环境配置全局日志器。dev 环境输出带色控制台并放开
// Debug 级别（协议层的丢帧/过期判定都在 Debug），其余环境
// 输出 Info 级别的 JSON。
func Init(env string) {
	zerolog.TimeFieldFormat = time.RFC3339

	level := zerolog.InfoLevel
	var out io.Writer = os.Stdout
	if env == "dev" {
		level = zerolog.DebugLevel
		out = zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}
	}

	log.Logger = zerolog.New(out).Level(level).With().
		Timestamp().
		Str("component", "roomclient").
		Logger()
}
