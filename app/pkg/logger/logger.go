package logger

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	mu    sync.RWMutex
	sugar *zap.SugaredLogger
)

// Init routes logs to stdout and a dated file under logDir.
func Init(logDir string) error {
	if err := os.MkdirAll(logDir, 0755); err != nil {
		return err
	}

	logFile := filepath.Join(logDir, fmt.Sprintf("aide0_%s.log", time.Now().Format("2006-01-02")))
	f, err := os.OpenFile(logFile, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}

	encoderCfg := zap.NewProductionEncoderConfig()
	encoderCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	core := zapcore.NewCore(
		zapcore.NewConsoleEncoder(encoderCfg),
		zapcore.NewMultiWriteSyncer(zapcore.AddSync(os.Stdout), zapcore.AddSync(f)),
		zapcore.InfoLevel,
	)

	mu.Lock()
	sugar = zap.New(core, zap.AddCaller(), zap.AddCallerSkip(1)).Sugar()
	mu.Unlock()
	return nil
}

func get() *zap.SugaredLogger {
	mu.RLock()
	defer mu.RUnlock()
	return sugar
}

func Info(format string, v ...interface{}) {
	if l := get(); l != nil {
		l.Infof(format, v...)
	}
}

func Warn(format string, v ...interface{}) {
	if l := get(); l != nil {
		l.Warnf(format, v...)
	}
}

func Error(format string, v ...interface{}) {
	if l := get(); l != nil {
		l.Errorf(format, v...)
	}
}

func Sync() {
	if l := get(); l != nil {
		_ = l.Sync()
	}
}
