package main

import (
	"duel-settlement/internal/cli"
)

func main() {
	cli.Execute()
}
