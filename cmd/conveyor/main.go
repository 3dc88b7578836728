package main

import (
	"github.com/ConnorShore/conveyor/internal/cli/cmd"
)

func main() {
	cmd.Execute()
}
