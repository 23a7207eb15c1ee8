// Package storage provides hierarchical key-value contexts for persisted
// controller and device state.
//
// A Backend stores raw bytes under (context path, key). A Context scopes a
// Backend to one namespace such as "MatterController" or "SessionManager" and
// encodes values with the codec package.
package storage

import (
	"errors"
	"strings"

	"github.com/Orzech99/matter.js/pkg/codec"
)

// Well-known context names.
const (
	ContextController     = "MatterController"
	ContextSessionManager = "SessionManager"
	ContextFabricManager  = "FabricManager"
	ContextCertificates   = "RootCertificateAuthority"
	ContextCommissioning  = "CommissioningServer"
)

const (
	contextPathSeparator = "."
	maxContextNameLength = 64
)

var (
	// ErrNotFound is returned when a key does not exist.
	ErrNotFound = errors.New("storage: key not found")

	// ErrInvalidContext is returned for empty or malformed context names.
	ErrInvalidContext = errors.New("storage: invalid context name")

	// ErrInvalidKey is returned for empty keys.
	ErrInvalidKey = errors.New("storage: invalid key")

	// ErrClosed is returned after the backend has been closed.
	ErrClosed = errors.New("storage: closed")
)

// Backend is the persistence capability consumed by the stack.
// Implementations must be safe for concurrent use.
type Backend interface {
	Get(contexts []string, key string) ([]byte, error)
	Set(contexts []string, key string, value []byte) error
	Delete(contexts []string, key string) error
	Keys(contexts []string) ([]string, error)
	// Clear removes every key of the context and of its sub-contexts.
	Clear(contexts []string) error
	Close() error
}

// Context is a namespaced view of a Backend.
type Context struct {
	backend  Backend
	contexts []string
}

// NewContext creates a root context.
func NewContext(backend Backend, name string) (*Context, error) {
	if err := validateContextName(name); err != nil {
		return nil, err
	}
	return &Context{backend: backend, contexts: []string{name}}, nil
}

// MustContext is NewContext for well-known constant names.
func MustContext(backend Backend, name string) *Context {
	ctx, err := NewContext(backend, name)
	if err != nil {
		panic(err)
	}
	return ctx
}

// Sub creates a child context.
func (c *Context) Sub(name string) (*Context, error) {
	if err := validateContextName(name); err != nil {
		return nil, err
	}
	contexts := make([]string, len(c.contexts), len(c.contexts)+1)
	copy(contexts, c.contexts)
	return &Context{backend: c.backend, contexts: append(contexts, name)}, nil
}

// Path returns the dotted context path.
func (c *Context) Path() string {
	return strings.Join(c.contexts, contextPathSeparator)
}

// Has reports whether key exists.
func (c *Context) Has(key string) (bool, error) {
	_, err := c.backend.Get(c.contexts, key)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, ErrNotFound):
		return false, nil
	default:
		return false, err
	}
}

// Get decodes the value stored under key into v.
// Returns ErrNotFound when the key does not exist.
func (c *Context) Get(key string, v any) error {
	if key == "" {
		return ErrInvalidKey
	}
	data, err := c.backend.Get(c.contexts, key)
	if err != nil {
		return err
	}
	return codec.Unmarshal(data, v)
}

// Set encodes v and stores it under key.
func (c *Context) Set(key string, v any) error {
	if key == "" {
		return ErrInvalidKey
	}
	data, err := codec.Marshal(v)
	if err != nil {
		return err
	}
	return c.backend.Set(c.contexts, key, data)
}

// Delete removes key. Deleting a missing key is not an error.
func (c *Context) Delete(key string) error {
	if key == "" {
		return ErrInvalidKey
	}
	return c.backend.Delete(c.contexts, key)
}

// Keys lists the keys of this context, excluding sub-contexts.
func (c *Context) Keys() ([]string, error) {
	return c.backend.Keys(c.contexts)
}

// Clear removes all keys of this context and its sub-contexts.
func (c *Context) Clear() error {
	return c.backend.Clear(c.contexts)
}

func validateContextName(name string) error {
	if name == "" || len(name) > maxContextNameLength || strings.Contains(name, contextPathSeparator) {
		return ErrInvalidContext
	}
	return nil
}

func contextKey(contexts []string) (string, error) {
	if len(contexts) == 0 {
		return "", ErrInvalidContext
	}
	for _, c := range contexts {
		if err := validateContextName(c); err != nil {
			return "", err
		}
	}
	return strings.Join(contexts, contextPathSeparator), nil
}

func isWithin(path, prefix string) bool {
	return path == prefix || strings.HasPrefix(path, prefix+contextPathSeparator)
}
