// Package system provides a real clock implementation.
package system

import (
	"fmt"
	"time"
)

// Clock implements crawler.Clock in a fixed location. Record dates are
// written in the site's local time.
type Clock struct {
	loc *time.Location
}

// New creates a Clock reporting UTC.
func New() *Clock {
	return &Clock{loc: time.UTC}
}

// NewIn creates a Clock in the named IANA location.
func NewIn(name string) (*Clock, error) {
	if name == "" {
		return New(), nil
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, fmt.Errorf("load location %q: %w", name, err)
	}
	return &Clock{loc: loc}, nil
}

// Location returns the clock's location.
func (c *Clock) Location() *time.Location {
	if c == nil || c.loc == nil {
		return time.UTC
	}
	return c.loc
}

// Now returns the current time.
func (c *Clock) Now() time.Time {
	return time.Now().In(c.Location())
}
