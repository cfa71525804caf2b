package clog

import (
	"context"
	"log/slog"
	"strings"
)

// NamespaceKey 是日志中命名空间的字段名
const NamespaceKey = "namespace"

// extractContextFields 从 context 中提取配置的字段并追加到 attrs。
func extractContextFields(ctx context.Context, o *options, attrs *[]slog.Attr) {
	if ctx == nil || o == nil || len(o.contextFields) == 0 {
		return
	}
	for _, cf := range o.contextFields {
		if val := ctx.Value(cf.Key); val != nil {
			*attrs = append(*attrs, slog.Any(cf.FieldName, val))
		}
	}
}

// addNamespaceFields 将命名空间字段追加到 attrs。
func addNamespaceFields(o *options, attrs *[]slog.Attr) {
	if o == nil || len(o.namespaceParts) == 0 {
		return
	}
	*attrs = append(*attrs, slog.String(NamespaceKey, strings.Join(o.namespaceParts, ".")))
}
