package main

import (
	"os"

	"github.com/rcliao/memory-bank/internal/cli"
)

func main() {
	os.Exit(cli.Execute())
}
