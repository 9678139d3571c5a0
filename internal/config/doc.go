// Package config holds the engine configuration: defaults, the YAML
// configuration file, the account credential file and XDG directories.
package config
