package main

import "github.com/ignitionstack/ember/cmd"

func main() {
	cmd.Execute()
}
