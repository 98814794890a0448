package main

import "github.com/rasha-hantash/locscout/cmd"

func main() {
	cmd.Execute()
}
