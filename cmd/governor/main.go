// The governor command runs the registry governance service and its
// operator CLI.
package main

import (
	"os"

	"github.com/wippyhq/registry-governor/cmd/governor/app"
)

func main() {
	if err := app.NewRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
