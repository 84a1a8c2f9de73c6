package main

import "github.com/BiyanKilani/daos/cmd"

func main() {
	cmd.Execute()
}
