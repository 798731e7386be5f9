package main

import (
	"github.com/AxelFr971/vocaline-local/cmd"
	"github.com/AxelFr971/vocaline-local/internal/logging"
)

func main() {
	// Defaults until the command loads its config.
	logging.Init("")
	cmd.Execute()
}
