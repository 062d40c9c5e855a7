// Command gpuresdemo exercises the gpures resource layer against an
// in-memory device and reports what the pools, caches and monitor saw.
package main

import (
	"log/slog"
	"os"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		slog.Error("gpuresdemo failed", "err", err)
		os.Exit(1)
	}
}
