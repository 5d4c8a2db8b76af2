package configs

import _ "embed"

// Default is the shipped default configuration.
//
//go:embed amlburn.yaml
var Default []byte
