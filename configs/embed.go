// Package configs provides embedded configuration templates for storysearch.
//
// Templates are embedded at build time using Go's //go:embed directive,
// so they are available in all distributions (source builds and binary
// releases alike).
//
// The templates are used by:
//   - cmd/storysearch/cmd/config.go → `config init` creates the user config
//     at ~/.config/storysearch/config.yaml
//   - cmd/storysearch/cmd/config.go → `config init --project` creates
//     storysearch.yaml in the current directory
//
// Configuration hierarchy (see internal/config Load()):
//  1. Hardcoded defaults (internal/config NewConfig())
//  2. User config (~/.config/storysearch/config.yaml)
//  3. Project config (storysearch.yaml)
//  4. Environment variables (STORYSEARCH_*, GROQ_*, EMBEDDING_*)
//
// To modify templates, edit the .yaml files in this directory and rebuild.
package configs

import _ "embed"

// UserConfigTemplate is the template for user/machine-level configuration.
// Contains machine-specific settings: storage location, embedding endpoint,
// reranker endpoint, logging.
//
//go:embed user-config.example.yaml
var UserConfigTemplate string

// ProjectConfigTemplate is the template for project-level configuration.
// Contains settings meant to be version-controlled with a story corpus:
// search weights, dedup threshold, server address.
//
//go:embed project-config.example.yaml
var ProjectConfigTemplate string
