package main

import "github.com/nextlevelbuilder/webexclaw/cmd"

func main() {
	cmd.Execute()
}
