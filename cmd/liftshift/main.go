package main

import "github.com/liftshift/liftshift/cmd/liftshift/cmd"

func main() {
	cmd.Execute()
}
