// Command collector receives pixel batches, stores them and exports them to
// Parquet.
package main

import (
	"os"

	"github.com/SebastienMelki/pixel/cmd/collector/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
