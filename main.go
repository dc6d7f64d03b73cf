package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/NickEvans4130/Ransomware-Detection-System/cmd"
)

func main() {
	if err := cmd.Run(); err != nil {
		var exitErr cmd.ExitCodeError
		if errors.As(err, &exitErr) {
			if exitErr.Msg != "" {
				fmt.Fprintf(os.Stderr, "ransomd: %s\n", exitErr.Msg)
			}
			os.Exit(exitErr.Code)
		}
		fmt.Fprintf(os.Stderr, "ransomd: %v\n", err)
		os.Exit(1)
	}
}
