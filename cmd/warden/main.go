package main

import (
	"os"

	"github.com/joho/godotenv"

	"github.com/Mutual-Roots/Ford-Perfect/internal/cli"
)

func main() {
	// WARDEN_* settings may also come from a .env file in the working directory.
	_ = godotenv.Load()
	os.Exit(cli.Execute())
}
