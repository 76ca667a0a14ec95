package main

import (
	"flrpredict/internal/cli"
)

func main() {
	cli.Execute()
}
