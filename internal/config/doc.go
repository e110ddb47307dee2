// Package config defines the format-agnostic result of loading a rule file,
// along with the Loader interface implemented by the concrete HCL and YAML
// loaders.
//
// The `config.Model` is the single hand-off point between a loader and the
// rest of the application: the app builds a registry from it and never looks
// at the source format again.
package config
