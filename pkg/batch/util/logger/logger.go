package logger

import (
	"fmt"
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// LogLevel はログのレベルを表す型です。
type LogLevel int

const (
	LevelDebug LogLevel = iota
	LevelInfo
	LevelWarn
	LevelError
	LevelFatal
)

var (
	level = zap.NewAtomicLevelAt(zapcore.InfoLevel)
	sugar = newSugaredLogger(zapcore.Lock(os.Stderr))
)

func newSugaredLogger(out zapcore.WriteSyncer) *zap.SugaredLogger {
	encCfg := zap.NewProductionEncoderConfig()
	encCfg.TimeKey = "ts"
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	encCfg.EncodeLevel = zapcore.CapitalLevelEncoder
	core := zapcore.NewCore(zapcore.NewConsoleEncoder(encCfg), out, level)
	return zap.New(core).Sugar()
}

// SetOutput はログの出力先を差し替えます。テストでの出力検証に使用します。
func SetOutput(out zapcore.WriteSyncer) {
	sugar = newSugaredLogger(out)
}

// SetLogLevel はログレベルを設定します。
func SetLogLevel(lvl string) {
	switch strings.ToUpper(lvl) {
	case "DEBUG":
		level.SetLevel(zapcore.DebugLevel)
	case "INFO":
		level.SetLevel(zapcore.InfoLevel)
	case "WARN":
		level.SetLevel(zapcore.WarnLevel)
	case "ERROR":
		level.SetLevel(zapcore.ErrorLevel)
	case "FATAL":
		level.SetLevel(zapcore.FatalLevel)
	default:
		fmt.Fprintf(os.Stderr, "警告: 不明なログレベル '%s' が指定されました。INFO レベルで続行します。\n", lvl)
		level.SetLevel(zapcore.InfoLevel)
	}
}

// GetLogLevel は現在のログレベルを返します。
func GetLogLevel() LogLevel {
	switch level.Level() {
	case zapcore.DebugLevel:
		return LevelDebug
	case zapcore.InfoLevel:
		return LevelInfo
	case zapcore.WarnLevel:
		return LevelWarn
	case zapcore.ErrorLevel:
		return LevelError
	default:
		return LevelFatal
	}
}

// Debugf は DEBUG レベルのログを出力します。
func Debugf(format string, v ...interface{}) {
	sugar.Debugf(format, v...)
}

// Infof は INFO レベルのログを出力します。
func Infof(format string, v ...interface{}) {
	sugar.Infof(format, v...)
}

// Warnf は WARN レベルのログを出力します。
func Warnf(format string, v ...interface{}) {
	sugar.Warnf(format, v...)
}

// Errorf は ERROR レベルのログを出力します。
func Errorf(format string, v ...interface{}) {
	sugar.Errorf(format, v...)
}

// Fatalf は FATAL レベルのログを出力し、プログラムを終了します。
func Fatalf(format string, v ...interface{}) {
	sugar.Fatalf(format, v...)
}

// Sync はバッファされたログを書き出します。
func Sync() error {
	return sugar.Sync()
}
