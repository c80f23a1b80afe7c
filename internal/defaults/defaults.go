// Package defaults carries files compiled into the binary.
package defaults

import _ "embed"

// ConfigYAML is the commented starter config that "subzero init"
// writes. Every value in it matches the built-in default.
//
//go:embed config.example.yaml
var ConfigYAML []byte
