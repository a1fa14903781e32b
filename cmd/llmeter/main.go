package main

import (
	"fmt"
	"os"

	"github.com/user/llmeter/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "llmeter:", err)
		os.Exit(1)
	}
}
