package main

import (
	"github.com/joho/godotenv"

	"github.com/codexrag/ragcli/cmd/ragcli/cmd"
)

func main() {
	// A missing .env is fine; it only ever supplies RAGCLI_* variables.
	_ = godotenv.Load()

	cmd.Execute()
}
