package main

import "github.com/nextlevelbuilder/mobius/cmd"

func main() {
	cmd.Execute()
}
