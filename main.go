package main

import (
	"context"
	"os"

	"github.com/agentic-research/ppd/cmd"
)

func main() {
	if err := cmd.Execute(context.Background()); err != nil {
		os.Exit(1)
	}
}
