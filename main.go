package main

import "github.com/wiztk/libskia/cmd"

func main() {
	cmd.Execute()
}
