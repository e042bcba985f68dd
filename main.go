package main

import "github.com/tanq16/catchup/cmd"

func main() {
	cmd.Execute()
}
