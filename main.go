package main

import "github.com/atmo/atmo/cmd"

func main() {
	cmd.Execute()
}
