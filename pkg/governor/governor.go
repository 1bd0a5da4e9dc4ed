// Package governor provides the public API for embedding the LLM governor.
// This is the stable API for external consumers.
package governor

import (
	"github.com/tjfontaine/llm-governor/internal/runtime"
)

// Governor is the main entry point for running the governor.
// See internal/runtime.Governor for full documentation.
type Governor = runtime.Governor

// Option is a functional option for configuring a Governor.
type Option = runtime.Option

// New creates a new Governor with the given options.
// Example:
//
//	gov, err := governor.New(
//	    governor.WithConfigFile("config.yaml"),
//	)
var New = runtime.New

// Configuration options
var (
	// Config sources
	WithConfigFile = runtime.WithConfigFile
	WithConfig     = runtime.WithConfig

	// Injection points
	WithStore     = runtime.WithStore
	WithProviders = runtime.WithProviders

	// Advanced options
	WithLogger    = runtime.WithLogger
	WithoutServer = runtime.WithoutServer
)
