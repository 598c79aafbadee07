// Package serializer is the pluggable encoding layer named in spec.md
// §4.1 and §6 ("serialization": json|msgpack). Codecs register
// themselves under a name at init time; the Two-Level Client looks one
// up by the name configured for a service and never imports a concrete
// codec package directly.
package serializer

import (
	"fmt"
	"sync"
)

// Serializer converts between a Go value and its wire bytes. Get calls
// pass a pointer destination the same way encoding/json.Unmarshal does.
type Serializer interface {
	Name() string
	Serialize(v interface{}) ([]byte, error)
	Deserialize(data []byte, v interface{}) error
}

var (
	mu       sync.RWMutex
	registry = map[string]Serializer{}
)

// Register adds a codec under its Name(). Registration is write-once
// per name: registering the same name twice panics, since two codecs
// silently fighting over the wire format for a service is a build-time
// bug, not a runtime condition to recover from.
func Register(s Serializer) {
	mu.Lock()
	defer mu.Unlock()
	name := s.Name()
	if _, exists := registry[name]; exists {
		panic(fmt.Sprintf("serializer: %q already registered", name))
	}
	registry[name] = s
}

// Get looks up a registered codec by name.
func Get(name string) (Serializer, error) {
	mu.RLock()
	defer mu.RUnlock()
	s, ok := registry[name]
	if !ok {
		return nil, fmt.Errorf("serializer: unknown codec %q", name)
	}
	return s, nil
}
