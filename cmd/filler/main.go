package main

import "github.com/vietddude/filler/internal/cli"

func main() {
	cli.Execute()
}
