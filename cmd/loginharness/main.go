package main

import (
	"context"
	"os"

	"github.com/kidandcat/loginharness/pkg/cli"
)

func main() {
	if err := cli.Execute(context.Background()); err != nil {
		os.Exit(1)
	}
}
