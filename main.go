package main

import "github.com/icco/abcd/cmd"

func main() {
	cmd.Execute()
}
