package main

import "vortex-thunder/cmd/vortex-thunder/cmd"

func main() {
	cmd.Execute()
}
