package main

import (
	"context"
	"fmt"
	"os"

	"storefront/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "storefront:", err)
		os.Exit(cli.GetExitCode(err))
	}
}
