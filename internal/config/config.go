package config

import "os"

// Default endpoints for local development. The backend serves on :4000 by
// default; the web frontend is typically proxied from :8080.
const (
	DefaultAPIBase = "http://localhost:4000/api"
	DefaultOrigin  = "http://localhost:8080"
)

// Config holds application configuration
type Config struct {
	APIBase string // configured absolute API base, e.g. https://compass.example.com/api
	Origin  string // origin the client is served from; used for same-origin candidates
	Token   string // bearer token produced by a prior login (empty = anonymous/dev)

	Streaming   bool   // stream assistant replies incrementally
	Debug       bool   // enable debug logging
	ArchivePath string // SQLite transcript archive location
}

// Load reads configuration from environment variables. Flag values set in
// main take precedence over these.
func Load() Config {
	return Config{
		APIBase:     getEnv("COMPASS_API_BASE", DefaultAPIBase),
		Origin:      getEnv("COMPASS_ORIGIN", DefaultOrigin),
		Token:       getEnv("COMPASS_TOKEN", ""),
		Streaming:   true,
		ArchivePath: getEnv("COMPASS_ARCHIVE", "compasschat.db"),
	}
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
