package discovery

import "github.com/ceyewan/pubsub/xerrors"

var (
	// ErrAlreadyStarted Start 被重复调用
	ErrAlreadyStarted = xerrors.New("discovery: already started")

	// ErrClosed 发现组件已关闭
	ErrClosed = xerrors.New("discovery: closed")

	// ErrInvalidConfig 配置校验失败
	ErrInvalidConfig = xerrors.New("discovery: invalid config")
)
