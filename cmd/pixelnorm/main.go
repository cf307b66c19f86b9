package main

import "github.com/dunamismax/pixelnorm/internal/cli"

func main() {
	cli.Execute()
}
