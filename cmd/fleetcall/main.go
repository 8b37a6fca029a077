package main

import "github.com/vietddude/fleetcall/internal/cli"

func main() {
	cli.Execute()
}
