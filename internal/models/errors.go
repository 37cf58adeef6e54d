package models

import "fmt"

// AdapterConfigurationError reports a missing or invalid credential detected
// while constructing an adapter. It is fatal at startup.
type AdapterConfigurationError struct {
	Adapter string
	Field   string
	Reason  string
}

func (e *AdapterConfigurationError) Error() string {
	reason := e.Reason
	if reason == "" {
		reason = "must be configured"
	}
	return fmt.Sprintf("%s adapter: %s %s", e.Adapter, e.Field, reason)
}
