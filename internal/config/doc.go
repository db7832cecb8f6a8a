// Package config loads the AutoAgent daemon configuration from a single YAML
// file (JSON documents are accepted as well) and fills in defaults for every
// section the operator leaves out.
package config
