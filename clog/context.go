package clog

import (
	"context"

	"go.uber.org/zap"
)

// extractContextFields 从 context 中提取配置的字段
func extractContextFields(ctx context.Context, options *options, fields []Field) []Field {
	if ctx == nil || options == nil || len(options.contextFields) == 0 {
		return fields
	}
	for _, cf := range options.contextFields {
		if val := ctx.Value(cf.Key); val != nil {
			fields = append(fields, zap.Any(cf.FieldName, val))
		}
	}
	return fields
}
