// Command reportflow renders per-recipient reports and emails them once.
package main

import (
	"os"

	"github.com/roach88/reportflow/internal/cli"
)

func main() {
	os.Exit(cli.Execute())
}
