// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package policy

import (
	"fmt"
	"sync"
)

// Registry binds each in-flight request to the Config it runs under.
//
// A request is bound once at admission (ConfigFor) and every later policy
// question for that request resolves through the binding, so a request
// observes one consistent config for its whole lifetime even if defaults
// change between requests. Bindings are released on request cleanup.
//
// # Thread Safety
//
// Safe for concurrent use.
type Registry struct {
	mu       sync.RWMutex
	defaults *Config
	bindings map[string]*Config
}

// NewRegistry creates a Registry over the given default config.
func NewRegistry(defaults *Config) *Registry {
	return &Registry{
		defaults: defaults,
		bindings: make(map[string]*Config),
	}
}

// Defaults returns the default config.
func (r *Registry) Defaults() *Config {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.defaults
}

// ConfigFor resolves and binds the config for a request.
//
// With no overrides the request binds to the shared defaults. With
// overrides a derived config is built; invalid overrides fail the call
// and leave no binding behind.
func (r *Registry) ConfigFor(requestID string, overrides map[string]any) (*Config, error) {
	if requestID == "" {
		return nil, fmt.Errorf("request id must not be empty")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	cfg, err := ApplyOverrides(r.defaults, overrides)
	if err != nil {
		return nil, err
	}
	r.bindings[requestID] = cfg
	return cfg, nil
}

// Get returns the bound config for a request, falling back to defaults
// for unknown request ids.
func (r *Registry) Get(requestID string) *Config {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if cfg, ok := r.bindings[requestID]; ok {
		return cfg
	}
	return r.defaults
}

// Release drops the binding for a request. Safe to call for unknown ids.
func (r *Registry) Release(requestID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.bindings, requestID)
}

// BindingCount returns the number of live bindings.
func (r *Registry) BindingCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.bindings)
}
