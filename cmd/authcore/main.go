package main

import (
	"context"
	"fmt"
	"os"

	"github.com/MrEthical07/authcore/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "authcore:", err)
		os.Exit(1)
	}
}
