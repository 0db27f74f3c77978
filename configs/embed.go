package configs

import "embed"

// PatternDefaults contains the shipped default prompt pattern YAML files.
//
//go:embed patterns/*.yaml
var PatternDefaults embed.FS
