package main

import "github.com/aweris/blefs/cmd/blefs/cmd"

func main() {
	cmd.Execute()
}
