package main

import "github.com/alecthomas/kong"

// version is overridden at build time via -ldflags.
var version = "dev"

// CLI defines the command-line interface.
type CLI struct {
	Config   string           `short:"c" help:"YAML config file path (optional)"`
	EnvFile  string           `default:".env" help:"Dotenv file loaded before reading the environment"`
	LogLevel string           `help:"Log level override (debug, info, warn, error)"`
	NoRender bool             `help:"Print answers as plain text instead of rendered markdown"`
	Version  kong.VersionFlag `help:"Show version information"`
}

func kongVars() kong.Vars {
	return kong.Vars{
		"version": version,
	}
}
