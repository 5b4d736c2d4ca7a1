package main

import "tempmon/internal/cli"

func main() {
	cli.Execute()
}
