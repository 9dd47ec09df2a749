// mavae-gateway はコンテンツ閲覧アプリ向けのキャッシュ付きBFFゲートウェイ。
//
//	mavae-gateway [serve|worker|migrate|healthcheck]
package main

import (
	"fmt"
	"os"

	"github.com/hitoshi/mavae-gateway/internal/app"
)

func main() {
	if err := app.Run(os.Stdout, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "mavae-gateway: %v\n", err)
		os.Exit(1)
	}
}
