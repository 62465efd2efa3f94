// Command sweepsync ingests Livox LiDAR sweeps and dispatches them to map
// consumers once the pose history covers them.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := NewRootCommand().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "sweepsync: %v\n", err)
		os.Exit(1)
	}
}
