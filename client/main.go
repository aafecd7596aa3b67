package main

import (
	"os"
)

func main() {
	if err := newRootCmd(os.Stdin, nil).Execute(); err != nil {
		os.Exit(1)
	}
}
