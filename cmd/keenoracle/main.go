package main

import "keen-oracle/internal/cli"

func main() {
	cli.Execute()
}
