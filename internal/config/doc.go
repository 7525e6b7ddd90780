// Package config defines the format-agnostic configuration model for a
// training pipeline, along with the Loader interface for reading it from
// various sources.
//
// The `config.Model` is the single source of truth for the `training` and
// `dag` packages. Concrete implementations of the Loader, such as for HCL,
// are provided in separate packages.
package config
