package httpserver

import "errors"

var (
	// ErrNoFallback is reported when the server is started without a "." route
	ErrNoFallback = errors.New("no fallback route registered")

	// ErrServerClosed is returned by Serve and ListenAndServe after Close
	ErrServerClosed = errors.New("httpserver: server closed")

	// ErrServing is returned by Route once the server has started
	ErrServing = errors.New("httpserver: routes cannot change while serving")

	// ErrHeaderTooLarge is returned when a request head exceeds the configured limit
	ErrHeaderTooLarge = errors.New("httpserver: request head too large")

	// ErrBodyTooLarge is returned when a request declares a body above the configured limit
	ErrBodyTooLarge = errors.New("httpserver: request body too large")
)

// ConfigError reports a server setup problem detected before any listener is bound
type ConfigError struct {
	Op  string
	Err error
}

func (e *ConfigError) Error() string {
	return "httpserver: " + e.Op + ": " + e.Err.Error()
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}
