package topology

import "github.com/ceyewan/pubsub/xerrors"

var (
	// ErrNotTracked 移除了一个从未添加过的端点
	ErrNotTracked = xerrors.New("topology: endpoint not tracked")

	// ErrNoMatchingAdmin 没有 admin 能处理该端点。
	// 这不是错误，端点会保持未绑定状态，仅用于日志和 xerrors.GetCode。
	ErrNoMatchingAdmin = xerrors.NewCoded(xerrors.CodeNoMatchingAdmin, "no admin scored above zero")
)
