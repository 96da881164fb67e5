package main

import "depthwatch/internal/cli"

func main() {
	cli.Execute()
}
