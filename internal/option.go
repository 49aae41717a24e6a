package internal

import "io"

// Option is a functional option for configuring the application.
type Option func(*application)

type application struct {
	config *Config
	// progress receives the terminal progress bar of a one-shot export.
	progress io.Writer
}

// WithConfig sets the application configuration.
func WithConfig(cfg *Config) Option {
	return func(a *application) {
		a.config = cfg
	}
}

// WithProgressOutput sets where RunExport draws its progress bar.
func WithProgressOutput(w io.Writer) Option {
	return func(a *application) {
		a.progress = w
	}
}
