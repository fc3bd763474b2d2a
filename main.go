package main

import "github.com/kozaktomas/cue/cmd"

func main() {
	cmd.Execute()
}
