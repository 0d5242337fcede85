package main

import "github.com/encodeous/reflex/cmd"

func main() {
	cmd.Execute()
}
