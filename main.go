package main

import (
	"os"

	"github.com/vlm-project/vlmcore/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
