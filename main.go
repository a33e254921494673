package main

import "filechat/cmd"

func main() {
	cmd.Execute()
}
