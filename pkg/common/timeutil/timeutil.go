// Package timeutil provides a small abstraction over the system clock so
// components that reason about elapsed time can be tested deterministically.
package timeutil

import "time"

// Provider supplies the current time.
type Provider interface {
	Now() time.Time
}

// realProvider reads the system clock.
type realProvider struct{}

// Now returns the current time in UTC.
func (realProvider) Now() time.Time { return time.Now().UTC() }

// Default returns a Provider backed by the system clock.
func Default() Provider { return realProvider{} }
