package main

import "github.com/metal-toolbox/logixinvent/cmd"

func main() {
	cmd.Execute()
}
