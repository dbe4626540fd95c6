package main

import (
	"os"

	"bq-guard/pkg/cli"
)

func main() {
	os.Exit(cli.Execute())
}
