package main

import "github.com/Trsvsr/idevicererestore/cmd/idevicererestore/cmd"

func main() {
	cmd.Execute()
}
