package config

import "fmt"

// ConfigurationError reports an invalid setting. It is only ever returned
// at startup.
type ConfigurationError struct {
	Field  string
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("config %s: %s", e.Field, e.Reason)
}
