package parser

import (
	"errors"
	"fmt"
	"strings"
	"sync"
)

// ErrUnsupported is returned when no registered parser accepts a file.
var ErrUnsupported = errors.New("unsupported track format")

// Registry holds the track parsers and picks one per file. Parsers are tried
// in registration order.
type Registry struct {
	mu      sync.RWMutex
	parsers []Parser
}

var globalRegistry = NewRegistry()

// NewRegistry returns a registry holding the GPX parser.
func NewRegistry() *Registry {
	return &Registry{parsers: []Parser{NewGPXParser()}}
}

// GetGlobalRegistry returns the process-wide registry.
func GetGlobalRegistry() *Registry {
	return globalRegistry
}

// Register appends p; a parser with the same name is replaced in place.
func (r *Registry) Register(p Parser) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for i, existing := range r.parsers {
		if strings.EqualFold(existing.Name(), p.Name()) {
			r.parsers[i] = p
			return
		}
	}
	r.parsers = append(r.parsers, p)
}

// Names lists the registered parsers.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, len(r.parsers))
	for i, p := range r.parsers {
		names[i] = p.Name()
	}
	return names
}

// FindParser returns the first parser that accepts filePath. The error wraps
// ErrUnsupported, and the last I/O error when sniffing failed.
func (r *Registry) FindParser(filePath string) (Parser, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var sniffErr error
	for _, p := range r.parsers {
		ok, err := p.CanParse(filePath)
		if err != nil {
			sniffErr = err
			continue
		}
		if ok {
			return p, nil
		}
	}
	if sniffErr != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrUnsupported, filePath, sniffErr)
	}
	return nil, fmt.Errorf("%w: %s", ErrUnsupported, filePath)
}

// GetParserByName looks a parser up case-insensitively.
func (r *Registry) GetParserByName(name string) (Parser, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, p := range r.parsers {
		if strings.EqualFold(p.Name(), name) {
			return p, nil
		}
	}
	return nil, fmt.Errorf("parser not found: %s", name)
}
