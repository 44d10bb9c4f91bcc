package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/joho/godotenv"
	"github.com/ncolesummers/character-prompt-agent/internal/cli"
)

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "警告: .env の読み込みに失敗しました: %v\n", err)
	}

	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
