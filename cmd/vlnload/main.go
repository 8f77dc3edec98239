// Command vlnload is the VLN pretraining data loader CLI.
package main

import (
	"os"

	"github.com/kilupskalvis/vlnload/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
