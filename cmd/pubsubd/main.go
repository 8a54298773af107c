// pubsubd 运行端点发现和拓扑管理，并提供诊断 HTTP 接口。
//
//	pubsubd serve --publish orders --subscribe billing
//	pubsubd list --directory etcd
//	pubsubd version
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
