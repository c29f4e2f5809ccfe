package main

import "github.com/snfit/snfit/cmd"

func main() {
	cmd.Execute()
}
