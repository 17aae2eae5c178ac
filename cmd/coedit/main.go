// Command coedit runs the collaborative editing server and its tooling.
package main

import (
	"fmt"
	"os"

	"github.com/roach88/coedit/internal/cli"
)

func main() {
	err := cli.NewRootCommand().Execute()
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
	}
	os.Exit(cli.GetExitCode(err))
}
