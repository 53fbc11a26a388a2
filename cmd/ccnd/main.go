package main

import (
	"os"

	"github.com/ccnd-go/ccnd/internal/cmd"
)

func main() {
	if err := cmd.CmdCcnd.Execute(); err != nil {
		os.Exit(1)
	}
}
