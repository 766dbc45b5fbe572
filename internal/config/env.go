package config

import (
	"os"
	"strings"

	"github.com/joho/godotenv"
)

// LoadEnv reads a .env file into the process environment.
// Missing files are ignored and variables already set win over the file.
func LoadEnv(path string) error {
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	return godotenv.Load(path)
}

// Secret returns the trimmed value of an environment variable.
func Secret(name string) string {
	if name == "" {
		return ""
	}
	return strings.TrimSpace(os.Getenv(name))
}
