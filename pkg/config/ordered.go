package config

import (
	"gopkg.in/yaml.v3"

	"github.com/devyard/vm/pkg/errdefs"
	"github.com/devyard/vm/pkg/ports"
)

// OrderedMap is a string-keyed mapping that preserves YAML insertion order
// across unmarshal/marshal round trips. The zero value is an empty map.
type OrderedMap[V any] struct {
	keys   []string
	values map[string]V
}

// ServiceMap is the ordered services block of a config.
type ServiceMap = OrderedMap[*ServiceConfig]

// StringMap is an ordered string→string mapping (aliases, environment).
type StringMap = OrderedMap[string]

// Get returns the value stored under key.
func (m *OrderedMap[V]) Get(key string) (V, bool) {
	v, ok := m.values[key]
	return v, ok
}

// Set inserts or updates key. New keys are appended at the end.
func (m *OrderedMap[V]) Set(key string, value V) {
	if m.values == nil {
		m.values = make(map[string]V)
	}
	if _, exists := m.values[key]; !exists {
		m.keys = append(m.keys, key)
	}
	m.values[key] = value
}

// Delete removes key, keeping the order of the remaining keys.
func (m *OrderedMap[V]) Delete(key string) {
	if _, exists := m.values[key]; !exists {
		return
	}
	delete(m.values, key)
	for i, k := range m.keys {
		if k == key {
			m.keys = append(m.keys[:i], m.keys[i+1:]...)
			break
		}
	}
}

// Keys returns the keys in insertion order.
func (m *OrderedMap[V]) Keys() []string {
	out := make([]string, len(m.keys))
	copy(out, m.keys)
	return out
}

// Len returns the number of entries.
func (m *OrderedMap[V]) Len() int {
	return len(m.keys)
}

// Clone returns a copy sharing no key bookkeeping with the original.
// Values are copied as-is.
func (m *OrderedMap[V]) Clone() OrderedMap[V] {
	var out OrderedMap[V]
	for _, k := range m.keys {
		out.Set(k, m.values[k])
	}
	return out
}

// UnmarshalYAML implements yaml.Unmarshaler, recording mapping order.
func (m *OrderedMap[V]) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind != yaml.MappingNode {
		return errdefs.Validationf("expected a mapping at line %d", value.Line)
	}
	m.keys = nil
	m.values = make(map[string]V, len(value.Content)/2)
	for i := 0; i+1 < len(value.Content); i += 2 {
		keyNode, valNode := value.Content[i], value.Content[i+1]
		if _, dup := m.values[keyNode.Value]; dup {
			return errdefs.Validationf("duplicate key %q at line %d", keyNode.Value, keyNode.Line)
		}
		var v V
		if err := valNode.Decode(&v); err != nil {
			return errdefs.Validationf("invalid value for %q at line %d: %v", keyNode.Value, valNode.Line, err)
		}
		m.keys = append(m.keys, keyNode.Value)
		m.values[keyNode.Value] = v
	}
	return nil
}

// MarshalYAML implements yaml.Marshaler, emitting keys in insertion order.
func (m OrderedMap[V]) MarshalYAML() (interface{}, error) {
	node := &yaml.Node{Kind: yaml.MappingNode, Tag: "!!map"}
	for _, k := range m.keys {
		keyNode := &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: k}
		valNode := &yaml.Node{}
		if err := valNode.Encode(m.values[k]); err != nil {
			return nil, err
		}
		node.Content = append(node.Content, keyNode, valNode)
	}
	return node, nil
}

// IsZero reports emptiness so omitempty can skip empty mappings.
func (m OrderedMap[V]) IsZero() bool {
	return len(m.keys) == 0
}

// PortsConfig is the ports block: an ordered service→host-port mapping
// plus the optional project port range auto-assignment draws from.
//
//	ports:
//	  web: 3000
//	  range: [3100, 3109]
type PortsConfig struct {
	entries OrderedMap[int]
	Range   *ports.Range
}

// Get returns the host port mapped for service.
func (p *PortsConfig) Get(service string) (int, bool) {
	return p.entries.Get(service)
}

// Set maps service to a host port.
func (p *PortsConfig) Set(service string, port int) {
	p.entries.Set(service, port)
}

// Delete removes the mapping for service.
func (p *PortsConfig) Delete(service string) {
	p.entries.Delete(service)
}

// Services returns the mapped service names in insertion order.
func (p *PortsConfig) Services() []string {
	return p.entries.Keys()
}

// Len returns the number of mapped services, not counting the range.
func (p *PortsConfig) Len() int {
	return p.entries.Len()
}

// Clone returns a deep copy.
func (p *PortsConfig) Clone() PortsConfig {
	out := PortsConfig{entries: p.entries.Clone()}
	if p.Range != nil {
		r := *p.Range
		out.Range = &r
	}
	return out
}

// UnmarshalYAML decodes the mixed mapping: the "range" key holds a
// [start, end] pair, every other key a port number.
func (p *PortsConfig) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind != yaml.MappingNode {
		return errdefs.Validationf("ports: expected a mapping at line %d", value.Line)
	}
	p.entries = OrderedMap[int]{}
	p.Range = nil
	for i := 0; i+1 < len(value.Content); i += 2 {
		keyNode, valNode := value.Content[i], value.Content[i+1]
		if keyNode.Value == "range" {
			var span []int
			if err := valNode.Decode(&span); err != nil || len(span) != 2 {
				return errdefs.Validationf("ports.range: want [start, end] at line %d", valNode.Line)
			}
			if span[0] < 1 || span[0] > 65535 || span[1] < 1 || span[1] > 65535 || span[0] > span[1] {
				return errdefs.Validationf("ports.range: invalid range [%d, %d] at line %d", span[0], span[1], valNode.Line)
			}
			p.Range = &ports.Range{Start: uint16(span[0]), End: uint16(span[1])}
			continue
		}
		var port int
		if err := valNode.Decode(&port); err != nil {
			return errdefs.Validationf("ports.%s: invalid port at line %d: %v", keyNode.Value, valNode.Line, err)
		}
		p.entries.Set(keyNode.Value, port)
	}
	return nil
}

// MarshalYAML emits service ports in insertion order, with the range as
// the final key.
func (p PortsConfig) MarshalYAML() (interface{}, error) {
	node := &yaml.Node{Kind: yaml.MappingNode, Tag: "!!map"}
	for _, k := range p.entries.Keys() {
		port, _ := p.entries.Get(k)
		keyNode := &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: k}
		valNode := &yaml.Node{}
		if err := valNode.Encode(port); err != nil {
			return nil, err
		}
		node.Content = append(node.Content, keyNode, valNode)
	}
	if p.Range != nil {
		keyNode := &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: "range"}
		valNode := &yaml.Node{}
		if err := valNode.Encode([]int{int(p.Range.Start), int(p.Range.End)}); err != nil {
			return nil, err
		}
		node.Content = append(node.Content, keyNode, valNode)
	}
	return node, nil
}

// IsZero reports emptiness so omitempty can skip an absent ports block.
func (p PortsConfig) IsZero() bool {
	return p.entries.Len() == 0 && p.Range == nil
}

// Limit is a resource limit scalar kept verbatim from YAML so both bare
// numbers (memory: 2048) and strings (memory: 1.5gb) are accepted. Parsing
// happens in ParseMemory and ParseCPUs.
type Limit string

// UnmarshalYAML accepts any scalar and keeps its text.
func (l *Limit) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind != yaml.ScalarNode {
		return errdefs.Validationf("expected a scalar at line %d", value.Line)
	}
	*l = Limit(value.Value)
	return nil
}

func (l Limit) String() string { return string(l) }

// IsZero reports emptiness for omitempty.
func (l Limit) IsZero() bool { return l == "" }

// Version is a runtime version accepted as either a bare number or a
// string in YAML (node: 20 and node: "20.11" both work).
type Version string

// UnmarshalYAML accepts any scalar and keeps its text.
func (v *Version) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind != yaml.ScalarNode {
		return errdefs.Validationf("expected a scalar at line %d", value.Line)
	}
	*v = Version(value.Value)
	return nil
}

func (v Version) String() string { return string(v) }

// IsZero reports emptiness for omitempty.
func (v Version) IsZero() bool { return v == "" }
