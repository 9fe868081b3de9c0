package main

import "cexdex-arb/internal/cli"

func main() {
	cli.Execute()
}
