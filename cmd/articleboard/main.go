// Command articleboard は記事ボードのサーバー・ワーカー・マイグレーションを起動する。
//
// 使い方:
//
//	articleboard [serve|worker|migrate|healthcheck]
package main

import (
	"fmt"
	"os"

	"github.com/hitoshi/articleboard/internal/app"
)

func main() {
	if err := app.Run(os.Stdout, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "articleboard: %v\n", err)
		os.Exit(1)
	}
}
