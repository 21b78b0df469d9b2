package main

import (
	_ "embed"
	"strings"
)

//go:embed VERSION
var embeddedVersion string

// version may be overridden at link time with -ldflags "-X main.version=...".
var version string

func init() {
	if version != "" {
		return
	}
	if version = strings.TrimSpace(embeddedVersion); version == "" {
		version = "DEV"
	}
}
