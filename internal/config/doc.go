// Package config holds the typed configuration surface and its three
// sources: compiled defaults, an optional YAML or TOML file, and GADUGI_*
// environment variables, applied in that order.
//
// File values are expressed as a pointer-field overlay so that "absent" and
// "zero" stay distinguishable; one merge function folds an overlay onto a
// Config. A Watcher built on fsnotify re-reads the file on change, with
// debouncing, so hosts can retune limits without restarting.
package config
