package config

import "github.com/joho/godotenv"

// LoadEnv loads a .env file from the working directory if one exists.
// Callers decide whether a missing file is an error.
func LoadEnv() error {
	return godotenv.Load()
}
