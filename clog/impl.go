package clog

import (
	"context"
	"fmt"
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// NamespaceKey 是日志中命名空间的字段名
const NamespaceKey = "namespace"

// loggerImpl 是 Logger 接口基于 zap 的实现
type loggerImpl struct {
	core    *zap.Logger
	level   zap.AtomicLevel
	options *options
	fields  []Field
}

func newLogger(config *Config, options *options) (Logger, error) {
	level, _ := ParseLevel(config.Level)
	atomic := zap.NewAtomicLevelAt(level.zapLevel())

	ws, err := openSink(config.Output, options)
	if err != nil {
		return nil, err
	}

	encCfg := zapcore.EncoderConfig{
		TimeKey:        "time",
		LevelKey:       "level",
		MessageKey:     "msg",
		CallerKey:      "source",
		StacktraceKey:  "stack",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeTime:     zapcore.TimeEncoderOfLayout(TimeFormat),
		EncodeDuration: zapcore.StringDurationEncoder,
		EncodeCaller:   zapcore.ShortCallerEncoder,
	}
	var enc zapcore.Encoder
	if strings.ToLower(config.Format) == "json" {
		encCfg.EncodeLevel = zapcore.LowercaseLevelEncoder
		enc = zapcore.NewJSONEncoder(encCfg)
	} else {
		encCfg.EncodeLevel = zapcore.CapitalLevelEncoder
		enc = zapcore.NewConsoleEncoder(encCfg)
	}

	zopts := []zap.Option{zap.AddCallerSkip(2)}
	if config.AddSource {
		zopts = append(zopts, zap.AddCaller())
	}

	return &loggerImpl{
		core:    zap.New(zapcore.NewCore(enc, ws, atomic), zopts...),
		level:   atomic,
		options: options,
	}, nil
}

func openSink(output string, options *options) (zapcore.WriteSyncer, error) {
	if options.writer != nil {
		return zapcore.AddSync(options.writer), nil
	}
	switch strings.ToLower(output) {
	case "", "stdout":
		return zapcore.Lock(os.Stdout), nil
	case "stderr":
		return zapcore.Lock(os.Stderr), nil
	default:
		f, err := os.OpenFile(output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, fmt.Errorf("open log output %s: %w", output, err)
		}
		return zapcore.Lock(f), nil
	}
}

func (l *loggerImpl) Debug(msg string, fields ...Field) {
	l.log(context.Background(), DebugLevel, msg, fields)
}

func (l *loggerImpl) Info(msg string, fields ...Field) {
	l.log(context.Background(), InfoLevel, msg, fields)
}

func (l *loggerImpl) Warn(msg string, fields ...Field) {
	l.log(context.Background(), WarnLevel, msg, fields)
}

func (l *loggerImpl) Error(msg string, fields ...Field) {
	l.log(context.Background(), ErrorLevel, msg, fields)
}

func (l *loggerImpl) Fatal(msg string, fields ...Field) {
	l.log(context.Background(), FatalLevel, msg, fields)
}

func (l *loggerImpl) DebugContext(ctx context.Context, msg string, fields ...Field) {
	l.log(ctx, DebugLevel, msg, fields)
}

func (l *loggerImpl) InfoContext(ctx context.Context, msg string, fields ...Field) {
	l.log(ctx, InfoLevel, msg, fields)
}

func (l *loggerImpl) WarnContext(ctx context.Context, msg string, fields ...Field) {
	l.log(ctx, WarnLevel, msg, fields)
}

func (l *loggerImpl) ErrorContext(ctx context.Context, msg string, fields ...Field) {
	l.log(ctx, ErrorLevel, msg, fields)
}

func (l *loggerImpl) FatalContext(ctx context.Context, msg string, fields ...Field) {
	l.log(ctx, FatalLevel, msg, fields)
}

func (l *loggerImpl) WithNamespace(parts ...string) Logger {
	newOptions := *l.options
	newOptions.namespaceParts = append(append([]string(nil), l.options.namespaceParts...), parts...)
	return &loggerImpl{
		core:    l.core,
		level:   l.level,
		options: &newOptions,
		fields:  l.fields,
	}
}

func (l *loggerImpl) With(fields ...Field) Logger {
	merged := make([]Field, 0, len(l.fields)+len(fields))
	merged = append(merged, l.fields...)
	merged = append(merged, fields...)
	return &loggerImpl{
		core:    l.core,
		level:   l.level,
		options: l.options,
		fields:  merged,
	}
}

func (l *loggerImpl) log(ctx context.Context, level Level, msg string, fields []Field) {
	ce := l.core.Check(level.zapLevel(), msg)
	if ce == nil {
		return
	}
	all := make([]Field, 0, len(l.fields)+len(fields)+len(l.options.contextFields)+1)
	if len(l.options.namespaceParts) > 0 {
		all = append(all, zap.String(NamespaceKey, strings.Join(l.options.namespaceParts, ".")))
	}
	all = append(all, l.fields...)
	all = append(all, fields...)
	all = extractContextFields(ctx, l.options, all)
	// FatalLevel 写入后由 zap 调用 os.Exit(1)
	ce.Write(all...)
}

func (l *loggerImpl) SetLevel(level Level) error {
	if level < DebugLevel || level > FatalLevel {
		return fmt.Errorf("invalid log level: %d", level)
	}
	l.level.SetLevel(level.zapLevel())
	return nil
}

func (l *loggerImpl) Flush() {
	_ = l.core.Sync()
}
