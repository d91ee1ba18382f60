// Package errors defines the error taxonomy of the build and sync pipelines
// and a concurrency-safe collector used to report per-package failures
// without aborting sibling packages.
package errors

import (
	"errors"
	"sync"
)

// ErrorCollector collects errors from concurrent pipeline branches.
type ErrorCollector struct {
	errors []error
	mutex  sync.RWMutex
}

// NewErrorCollector creates a new error collector
func NewErrorCollector() *ErrorCollector {
	return &ErrorCollector{
		errors: make([]error, 0),
	}
}

// Add adds an error to the collector. Nil errors are ignored.
func (ec *ErrorCollector) Add(err error) {
	if err == nil {
		return
	}
	ec.mutex.Lock()
	defer ec.mutex.Unlock()
	ec.errors = append(ec.errors, err)
}

// Errors returns a copy of all collected errors.
func (ec *ErrorCollector) Errors() []error {
	ec.mutex.RLock()
	defer ec.mutex.RUnlock()
	result := make([]error, len(ec.errors))
	copy(result, ec.errors)
	return result
}

// HasErrors returns true if there are any errors
func (ec *ErrorCollector) HasErrors() bool {
	ec.mutex.RLock()
	defer ec.mutex.RUnlock()
	return len(ec.errors) > 0
}

// Err joins the collected errors, or returns nil when empty.
func (ec *ErrorCollector) Err() error {
	return errors.Join(ec.Errors()...)
}
