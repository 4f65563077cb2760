package main

import (
	"fmt"
	"os"
)

func main() {
	cmd := newRootCommand(os.Stdout)
	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "expensectl: %v\n", err)
		os.Exit(1)
	}
}
