package main

import (
	"fmt"
	"os"

	"github.com/ashureev/goalpath/internal/cli"
)

func main() {
	if err := cli.NewRootCmd(cli.DefaultEnv()).Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
