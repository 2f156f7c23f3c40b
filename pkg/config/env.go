package config

import (
	"errors"
	"io/fs"
	"os"
	"strings"

	"github.com/harunnryd/sttstream/pkg/errorsx"
	"github.com/joho/godotenv"
)

// LoadEnvFile loads KEY=VALUE pairs into the process environment. Variables
// that are already set win. A missing file is not an error.
func LoadEnvFile(path string) error {
	if strings.TrimSpace(path) == "" {
		return nil
	}
	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return errorsx.Errorf(errorsx.ReasonConfig, "load env file: %w", err)
	}
	return nil
}
