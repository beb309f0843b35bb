package main

import "github.com/harrisonrobin/wurk2do/pkg/cli"

var version = "dev"

func main() {
	cli.Execute(version)
}
