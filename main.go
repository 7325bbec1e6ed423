package main

import "github.com/stevehiehn/taskdsl/cmd"

func main() {
	cmd.Execute()
}
