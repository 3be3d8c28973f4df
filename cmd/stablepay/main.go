package main

import "stablecoin-payments/internal/cli"

func main() {
	cli.Execute()
}
