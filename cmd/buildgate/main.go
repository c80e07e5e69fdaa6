package main

import "github.com/buildgate/buildgate/internal/cli"

func main() {
	cli.Execute()
}
