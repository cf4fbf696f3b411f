package main

import "github.com/rebel-tools/groupsync/cmd"

func main() {
	cmd.Execute()
}
