package main

import "libris/internal/cli"

func main() {
	cli.Execute()
}
