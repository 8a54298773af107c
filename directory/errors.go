package directory

import "github.com/ceyewan/pubsub/xerrors"

var (
	// ErrUnavailable 目录服务暂时不可用（网络错误、超时、熔断打开）
	ErrUnavailable = xerrors.NewCoded(xerrors.CodeDirectoryUnavailable, "directory unavailable")

	// ErrIndexCleared watch 起点早于目录保留的历史
	ErrIndexCleared = xerrors.New("directory: watch index cleared")

	// ErrKeyNotFound 键不存在
	ErrKeyNotFound = xerrors.New("directory: key not found")

	// ErrLeaseNotFound 续约时租约不存在或已过期
	ErrLeaseNotFound = xerrors.New("directory: lease not found")

	// ErrClosed 目录客户端已关闭
	ErrClosed = xerrors.New("directory: closed")

	// ErrInvalidConfig 配置校验失败
	ErrInvalidConfig = xerrors.New("directory: invalid config")
)

func unavailable(detail string) error {
	return xerrors.Wrap(ErrUnavailable, detail)
}
