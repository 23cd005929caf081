package main

import (
	"context"
	"fmt"
	"os"

	"github.com/PipeOpsHQ/rube/internal/cli"
)

func main() {
	if err := cli.Execute(context.Background(), os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, "rube:", err)
		os.Exit(1)
	}
}
