package main

import (
	"context"
	"flag"
	"log"

	"github.com/joho/godotenv"

	"montage/internal/config"
	"montage/internal/daemonrun"
)

func main() {
	// Pull MONTAGE_* variables from a local .env before config resolution.
	_ = godotenv.Load()

	var (
		configPath  string
		logLevel    string
		development bool
	)
	flag.StringVar(&configPath, "config", "", "Path to the montage configuration file")
	flag.StringVar(&logLevel, "log-level", "", "Override the configured log level")
	flag.BoolVar(&development, "development", false, "Enable development logging")
	flag.Parse()

	cfg, err := loadConfig(configPath)
	if err != nil {
		log.Fatalf("montaged: %v", err)
	}

	opts := daemonrun.Options{LogLevel: logLevel, Development: development}
	if err := daemonrun.Run(context.Background(), cfg, opts); err != nil {
		log.Fatalf("montaged: %v", err)
	}
}

func loadConfig(path string) (*config.Config, error) {
	cfg, _, _, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, err
	}
	return cfg, nil
}
