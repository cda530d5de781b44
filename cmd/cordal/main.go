// Command cordal runs the configuration-driven REST API gateway.
package main

import (
	"fmt"
	"os"

	"github.com/cordal/gateway/cmd/cordal/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
