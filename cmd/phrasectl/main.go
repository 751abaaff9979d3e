package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"

	"phrasebot/internal/cli"
)

func main() {
	_ = godotenv.Load()

	if err := cli.NewRootCmd(nil).Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
