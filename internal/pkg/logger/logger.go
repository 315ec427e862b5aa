// Package logger server、worker 和命令行共用的结构化日志
package logger

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

// Fields 日志字段
type Fields map[string]interface{}

// Logger 封装 logrus.Logger
type Logger struct {
	*logrus.Logger
}

// New 创建日志，format 为 "json" 或 ENV=production 时使用 JSON 格式
func New(level, format string) *Logger {
	l := logrus.New()
	l.SetOutput(os.Stdout)
	l.SetLevel(ParseLevel(level))

	if format == "json" || os.Getenv("ENV") == "production" {
		l.SetFormatter(&logrus.JSONFormatter{
			TimestampFormat: time.RFC3339Nano,
		})
	} else {
		l.SetFormatter(&logrus.TextFormatter{
			FullTimestamp:   true,
			TimestampFormat: time.RFC3339,
		})
	}

	return &Logger{Logger: l}
}

// Discard 不输出的日志，用于测试
func Discard() *Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return &Logger{Logger: l}
}

// ParseLevel 无法识别时使用 info
func ParseLevel(level string) logrus.Level {
	lvl, err := logrus.ParseLevel(strings.ToLower(strings.TrimSpace(level)))
	if err != nil {
		return logrus.InfoLevel
	}
	return lvl
}

// WithFields 添加日志字段
func (l *Logger) WithFields(fields Fields) *logrus.Entry {
	return l.Logger.WithFields(logrus.Fields(fields))
}

// WithJob 添加任务和公司字段
func (l *Logger) WithJob(jobID, companyID int64, domain string) *logrus.Entry {
	return l.Logger.WithFields(logrus.Fields{
		"job_id":     jobID,
		"company_id": companyID,
		"domain":     domain,
	})
}

var defaultLogger = New("info", "")

// Default 获取全局日志
func Default() *Logger {
	return defaultLogger
}

// SetDefault 设置全局日志
func SetDefault(l *Logger) {
	if l != nil {
		defaultLogger = l
	}
}

func Infof(format string, args ...interface{}) {
	defaultLogger.Infof(format, args...)
}

func Warnf(format string, args ...interface{}) {
	defaultLogger.Warnf(format, args...)
}

func Errorf(format string, args ...interface{}) {
	defaultLogger.Errorf(format, args...)
}

func Fatalf(format string, args ...interface{}) {
	defaultLogger.Fatalf(format, args...)
}

// WithFields 使用全局日志添加字段
func WithFields(fields Fields) *logrus.Entry {
	return defaultLogger.WithFields(fields)
}
