package main

import "mediaup/cmd"

func main() {
	cmd.Execute()
}
