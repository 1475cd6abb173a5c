// Command srcrecover recovers source trees from Android distributions.
package main

import (
	"os"

	"github.com/roach88/srcrecover/internal/cli"
)

func main() {
	os.Exit(cli.Execute())
}
