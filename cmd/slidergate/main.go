package main

import "github.com/jmcleod/slidergate/cmd/slidergate/cmd"

func main() {
	cmd.Execute()
}
