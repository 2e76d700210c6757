package main

import (
	"endpoint-reconciler/internal/cli"
)

func main() {
	cli.Execute()
}
