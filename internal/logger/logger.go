package logger

import (
	"bot-orchestrator/internal/models"
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

var baseLogger *zap.Logger

// InitLogger 初始化zap日志记录器
func InitLogger(cfg models.LogConfig) {
	logLevel := zap.NewAtomicLevel()
	if err := logLevel.UnmarshalText([]byte(cfg.Level)); err != nil {
		logLevel.SetLevel(zap.InfoLevel) // 默认为Info级别
	}

	encoderConfig := zap.NewProductionEncoderConfig()
	encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	encoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	consoleEncoder := zapcore.NewConsoleEncoder(encoderConfig)

	var cores []zapcore.Core

	output := strings.ToLower(cfg.Output)
	if output == "file" || output == "both" {
		// 文件输出不带颜色, 由 lumberjack 负责切割
		fileEncoderConfig := encoderConfig
		fileEncoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
		lumberjackLogger := &lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    cfg.MaxSize,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAge,
			Compress:   cfg.Compress,
		}
		cores = append(cores, zapcore.NewCore(zapcore.NewConsoleEncoder(fileEncoderConfig), zapcore.AddSync(lumberjackLogger), logLevel))
	}

	if output == "console" || output == "both" || len(cores) == 0 {
		cores = append(cores, zapcore.NewCore(consoleEncoder, zapcore.AddSync(os.Stdout), logLevel))
	}

	baseLogger = zap.New(zapcore.NewTee(cores...), zap.AddCaller())
}

// L 返回全局 logger, 传给各组件使用
func L() *zap.Logger {
	if baseLogger == nil {
		logger, _ := zap.NewDevelopment()
		return logger
	}
	return baseLogger
}

// S 返回全局的sugared logger实例
func S() *zap.SugaredLogger {
	return L().Sugar()
}
