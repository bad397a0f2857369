package main

import (
	"fmt"
	"os"

	"github.com/matheus3301/chatsync/internal/ctl"
)

func main() {
	if err := ctl.NewRootCommand().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(ctl.ExitCode(err))
	}
}
