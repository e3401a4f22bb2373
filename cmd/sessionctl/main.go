// Command sessionctl inspects and manages sessions held in a session backend.
package main

import (
	"os"

	"github.com/haiyiyun/sessionstore/cmd/sessionctl/app"
)

func main() {
	if err := app.NewRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
