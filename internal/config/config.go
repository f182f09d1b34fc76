// Package config loads the daemon's environment and declarative
// source-name table (spec §6 "Config"/"Environment"), generalizing the
// teacher's youtube.LoadConfigFromEnv into a single startup step.
package config

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"
)

// Profile selects which listen-address env var and source table a build
// reads, mirroring the original's debug/release split.
type Profile int

const (
	Dev Profile = iota
	Prod
)

func (p Profile) String() string {
	if p == Prod {
		return "prod"
	}
	return "dev"
}

// Config is everything the daemon needs to start (spec §6).
type Config struct {
	Profile       Profile
	ListenAddress string
	YoutubeAPIKey string
	DatabaseDSN   string
	RecoveryFile  string
	Sources       []Source
}

// Source is one row of the declarative source-name table.
type Source struct {
	Name              string
	HumanReadableName string
}

// Load reads a .env file if present (ignored if missing — matching
// godotenv's own "fine without one" stance for production containers),
// then reads the environment per spec §6 and parses the source table for
// profile.
func Load(profile Profile, sourceTablePath string) (*Config, error) {
	_ = godotenv.Load()

	addrVar := "API_ADDRESS_DEV"
	if profile == Prod {
		addrVar = "API_ADDRESS_PROD"
	}
	addr := os.Getenv(addrVar)
	if addr == "" {
		return nil, fmt.Errorf("environment variable %q must be set for a %s build", addrVar, profile)
	}

	apiKey := os.Getenv("YOUTUBE_API_KEY")
	if apiKey == "" {
		return nil, fmt.Errorf("environment variable YOUTUBE_API_KEY must be set")
	}

	dsn := os.Getenv("DATABASE_DSN")
	if dsn == "" {
		dsn = "zonecast.db"
	}

	recoveryFile := os.Getenv("RECOVERY_FILE")
	if recoveryFile == "" {
		recoveryFile = "zonecast_recovery.bin"
	}

	sources, err := parseSourceTable(sourceTablePath)
	if err != nil {
		return nil, fmt.Errorf("parse source table %s: %w", sourceTablePath, err)
	}

	return &Config{
		Profile:       profile,
		ListenAddress: addr,
		YoutubeAPIKey: apiKey,
		DatabaseDSN:   dsn,
		RecoveryFile:  recoveryFile,
		Sources:       sources,
	}, nil
}

// parseSourceTable reads the two-column `name<TAB or spaces>human name`
// table named by spec §6 ("sources-dev" / "sources-prod"). It is
// deliberately not a godotenv-style KEY=VALUE file: each line names one
// node, not one setting, so the ecosystem .env parser doesn't apply here
// (see DESIGN.md).
func parseSourceTable(path string) ([]Source, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var sources []Source
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.SplitN(line, "\t", 2)
		if len(fields) != 2 {
			fields = strings.SplitN(line, " ", 2)
		}
		if len(fields) != 2 {
			return nil, fmt.Errorf("malformed source table line: %q", line)
		}
		sources = append(sources, Source{
			Name:              strings.TrimSpace(fields[0]),
			HumanReadableName: strings.TrimSpace(fields[1]),
		})
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return sources, nil
}
