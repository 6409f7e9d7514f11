package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

const (
	defaultAPIURL = "http://localhost:8080"
	tokenFileName = ".chaosctl_token"
)

// ErrNotLoggedIn is returned when no token has been stored yet.
var ErrNotLoggedIn = errors.New("not logged in: run chaosctl login first")

// APIURL returns the API base URL from --api-url, CHAOS_API_URL or the config file.
func APIURL() string {
	if v := viper.GetString("api_url"); v != "" {
		return strings.TrimRight(v, "/")
	}
	if v := os.Getenv("CHAOS_API_URL"); v != "" {
		return strings.TrimRight(v, "/")
	}
	return defaultAPIURL
}

// JSONOutput reports whether --json was given.
func JSONOutput() bool {
	return viper.GetBool("json")
}

// SaveToken stores the JWT in the user's home directory, readable only by them.
func SaveToken(token string) error {
	return os.WriteFile(tokenPath(), []byte(token), 0600)
}

// ReadToken returns the stored JWT. CHAOS_TOKEN overrides the file.
func ReadToken() (string, error) {
	if v := os.Getenv("CHAOS_TOKEN"); v != "" {
		return v, nil
	}
	data, err := os.ReadFile(tokenPath())
	if errors.Is(err, os.ErrNotExist) {
		return "", ErrNotLoggedIn
	}
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(data)), nil
}

// RemoveToken deletes the stored JWT.
func RemoveToken() error {
	err := os.Remove(tokenPath())
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return err
}

func tokenPath() string {
	dir, _ := os.UserHomeDir()
	return filepath.Join(dir, tokenFileName)
}
