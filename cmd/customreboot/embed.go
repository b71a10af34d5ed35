package main

import _ "embed"

// embeddedConfig holds the YAML defaults compiled into the binary.
// Distributions overwrite default_config.yaml before building to change
// bootloader paths without shipping a separate config file.
//
//go:embed default_config.yaml
var embeddedConfig []byte
