// Copyright (C) 2025 Zachary Marion
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package keys stores provider API keys for the lifetime of the
// process. Keys live in memguard enclaves, so they are encrypted at
// rest in memory and wiped on destroy; they are never written to disk.
package keys

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/awnumar/memguard"
)

// Providers the studio accepts keys for.
const (
	ProviderAnthropic = "anthropic"
	ProviderOpenAI    = "openai"
)

// ErrNotFound means no key is stored for the provider.
var ErrNotFound = errors.New("no API key stored for provider")

// Store holds provider API keys.
type Store interface {
	// Set stores or replaces the key for a provider.
	Set(provider, key string) error
	// Get returns the key for a provider, or ErrNotFound.
	Get(provider string) (string, error)
	// Delete removes the key for a provider. Deleting a missing key is
	// not an error.
	Delete(provider string) error
	// Has reports whether a key is stored for a provider.
	Has(provider string) bool
}

// EnclaveStore is the memguard-backed Store.
type EnclaveStore struct {
	mu       sync.Mutex
	enclaves map[string]*memguard.Enclave
}

// NewEnclaveStore returns an empty store.
func NewEnclaveStore() *EnclaveStore {
	return &EnclaveStore{enclaves: make(map[string]*memguard.Enclave)}
}

func normalizeProvider(provider string) (string, error) {
	p := strings.ToLower(strings.TrimSpace(provider))
	switch p {
	case ProviderAnthropic, ProviderOpenAI:
		return p, nil
	}
	return "", fmt.Errorf("unknown provider %q", provider)
}

func (s *EnclaveStore) Set(provider, key string) error {
	p, err := normalizeProvider(provider)
	if err != nil {
		return err
	}
	if key == "" {
		return errors.New("API key must not be empty")
	}

	// NewEnclave wipes the source buffer, so pass it a copy we own.
	buf := []byte(key)
	enclave := memguard.NewEnclave(buf)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.enclaves[p] = enclave
	return nil
}

func (s *EnclaveStore) Get(provider string) (string, error) {
	p, err := normalizeProvider(provider)
	if err != nil {
		return "", err
	}

	s.mu.Lock()
	enclave, ok := s.enclaves[p]
	s.mu.Unlock()
	if !ok {
		return "", fmt.Errorf("%s: %w", p, ErrNotFound)
	}

	lb, err := enclave.Open()
	if err != nil {
		return "", fmt.Errorf("open enclave: %w", err)
	}
	defer lb.Destroy()
	return string(lb.Bytes()), nil
}

func (s *EnclaveStore) Delete(provider string) error {
	p, err := normalizeProvider(provider)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.enclaves, p)
	return nil
}

func (s *EnclaveStore) Has(provider string) bool {
	p, err := normalizeProvider(provider)
	if err != nil {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.enclaves[p]
	return ok
}
