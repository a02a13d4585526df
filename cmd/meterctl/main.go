package main

import (
	"os"
)

func main() {
	if err := newRootCmd(wireServices).Execute(); err != nil {
		os.Exit(1)
	}
}
