// Package main provides the Strand ML Framework CLI.
package main

import (
	"fmt"
	"os"
)

const version = "v0.0.1-dev"

func main() {
	if len(os.Args) > 1 && os.Args[1] == "version" {
		fmt.Printf("Strand ML Framework %s\n", version)
		return
	}

	fmt.Println("Strand ML Framework - Linear Pipeline Execution for Go")
	fmt.Printf("Version: %s\n\n", version)
	fmt.Println("Commands:")
	fmt.Println("  version    Show version")
	fmt.Println("")
	fmt.Println("Coming soon: train, infer, bench")
}
