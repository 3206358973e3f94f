// Command profilehub はプロフィール管理APIサーバーを起動する。
//
// サブコマンド:
//
//	serve        APIサーバーを起動する（デフォルト）
//	migrate      データベースマイグレーションを適用する
//	healthcheck  /health に問い合わせ、結果を終了コードで返す
package main

import (
	"fmt"
	"os"

	"github.com/hitoshi/profilehub/internal/app"
)

func main() {
	if err := app.Run(os.Stdout, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "profilehub: %v\n", err)
		os.Exit(1)
	}
}
