package endpoint

import "github.com/ceyewan/pubsub/xerrors"

var (
	// ErrInvalidEndpoint 端点缺少必填属性
	ErrInvalidEndpoint = xerrors.NewCoded(xerrors.CodeInvalidEndpoint, "invalid endpoint")
	// ErrMalformedPayload 目录值无法解码为 JSON 对象
	ErrMalformedPayload = xerrors.NewCoded(xerrors.CodeMalformedPayload, "malformed endpoint payload")
)
