package clog

import (
	"time"

	"go.uber.org/zap"
)

// Field 是 zap.Field 的类型别名
type Field = zap.Field

// String 创建字符串字段
func String(k, v string) Field {
	return zap.String(k, v)
}

// Int 创建整数字段
func Int(k string, v int) Field {
	return zap.Int(k, v)
}

// Int64 创建64位整数字段
func Int64(k string, v int64) Field {
	return zap.Int64(k, v)
}

// Float64 创建浮点数字段
func Float64(k string, v float64) Field {
	return zap.Float64(k, v)
}

// Bool 创建布尔字段
func Bool(k string, v bool) Field {
	return zap.Bool(k, v)
}

// Time 创建时间字段
func Time(k string, v time.Time) Field {
	return zap.Time(k, v)
}

// Duration 创建时间长度字段
func Duration(k string, v time.Duration) Field {
	return zap.Duration(k, v)
}

// Any 创建任意类型字段
func Any(k string, v any) Field {
	return zap.Any(k, v)
}

// Error 将错误简化为仅包含错误消息的字段
//
//	logger.Error("refresh lease failed", clog.Error(err))
//	// 输出：err_msg="lease not found"
func Error(err error) Field {
	if err == nil {
		return zap.Skip()
	}
	return zap.String("err_msg", err.Error())
}

// ErrorWithCode 包含错误代码的错误字段，产生嵌套结构：error={msg="...", code="..."}
func ErrorWithCode(err error, code string) Field {
	if err == nil {
		return zap.Dict("error", zap.String("code", code))
	}
	return zap.Dict("error",
		zap.String("msg", err.Error()),
		zap.String("code", code),
	)
}
