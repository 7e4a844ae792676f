package logging

import (
	"os"

	"go.uber.org/zap/zapcore"
)

// NewMultiCore tees entries to stdout and to fileWriter. The file side is
// always JSON; the console side is human-readable in development mode.
func NewMultiCore(level zapcore.Level, fileWriter zapcore.WriteSyncer, isDev bool) zapcore.Core {
	return NewMultiCoreWithWriters(level, zapcore.Lock(os.Stdout), fileWriter, isDev)
}

// NewMultiCoreWithWriters is NewMultiCore with an explicit console writer.
func NewMultiCoreWithWriters(level zapcore.Level, consoleWriter, fileWriter zapcore.WriteSyncer, isDev bool) zapcore.Core {
	fileCore := zapcore.NewCore(zapcore.NewJSONEncoder(NewEncoderConfig()), fileWriter, level)

	consoleEncoder := zapcore.NewJSONEncoder(NewEncoderConfig())
	if isDev {
		consoleEncoder = zapcore.NewConsoleEncoder(NewConsoleEncoderConfig())
	}
	consoleCore := zapcore.NewCore(consoleEncoder, consoleWriter, level)

	return zapcore.NewTee(consoleCore, fileCore)
}
