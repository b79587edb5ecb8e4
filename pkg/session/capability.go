package session

import (
	"fmt"
	"sort"
)

// CapabilityType classifies a provider feature. The vocabulary is closed;
// unknown tags are rejected as validation errors.
type CapabilityType string

const (
	CapabilitySampling  CapabilityType = "sampling"
	CapabilityTool      CapabilityType = "tool"
	CapabilityMemory    CapabilityType = "memory"
	CapabilityStreaming CapabilityType = "streaming"
	CapabilityVision    CapabilityType = "vision"
	CapabilityEmbedding CapabilityType = "embedding"
)

// Valid reports whether the capability type belongs to the known vocabulary.
func (t CapabilityType) Valid() bool {
	switch t {
	case CapabilitySampling, CapabilityTool, CapabilityMemory,
		CapabilityStreaming, CapabilityVision, CapabilityEmbedding:
		return true
	}
	return false
}

// Capability is a declared provider feature. Disabled capabilities never
// count as supported during negotiation.
type Capability struct {
	Type    CapabilityType `json:"type"`
	Name    string         `json:"name"`
	Enabled bool           `json:"enabled"`
}

// Validate checks the capability's required fields and vocabulary.
func (c Capability) Validate() error {
	if !c.Type.Valid() {
		return &ValidationError{Field: "type", Reason: string(c.Type), Err: ErrInvalidCapabilityType}
	}
	if c.Name == "" {
		return newValidationError("name", "must not be empty")
	}
	return nil
}

// ToMap encodes the capability as a string-keyed map.
func (c Capability) ToMap() map[string]any {
	return map[string]any{
		"type":    string(c.Type),
		"name":    c.Name,
		"enabled": c.Enabled,
	}
}

// CapabilityFromMap decodes a capability previously encoded with ToMap.
func CapabilityFromMap(m map[string]any) (Capability, error) {
	c := Capability{}
	typ, err := stringField(m, "type", true)
	if err != nil {
		return c, err
	}
	c.Type = CapabilityType(typ)
	if c.Name, err = stringField(m, "name", true); err != nil {
		return c, err
	}
	if v, ok := m["enabled"]; ok {
		b, ok := v.(bool)
		if !ok {
			return c, newValidationError("enabled", fmt.Sprintf("expected bool, got %T", v))
		}
		c.Enabled = b
	}
	if err := c.Validate(); err != nil {
		return Capability{}, err
	}
	return c, nil
}

// Manifest bundles an agent's identity with its declared capabilities.
type Manifest struct {
	AgentID      string       `json:"agentId"`
	Capabilities []Capability `json:"capabilities"`
}

// NewManifest constructs a validated manifest. Declaring the same
// (type, name) pair twice is rejected.
func NewManifest(agentID string, caps []Capability) (*Manifest, error) {
	if agentID == "" {
		return nil, newValidationError("agent_id", "must not be empty")
	}
	seen := make(map[Capability]struct{}, len(caps))
	out := make([]Capability, 0, len(caps))
	for _, c := range caps {
		if err := c.Validate(); err != nil {
			return nil, err
		}
		key := Capability{Type: c.Type, Name: c.Name}
		if _, dup := seen[key]; dup {
			return nil, &ValidationError{
				Field:  "capabilities",
				Reason: fmt.Sprintf("%s/%s", c.Type, c.Name),
				Err:    ErrDuplicateCapability,
			}
		}
		seen[key] = struct{}{}
		out = append(out, c)
	}
	return &Manifest{AgentID: agentID, Capabilities: out}, nil
}

// ToMap encodes the manifest as a string-keyed map.
func (m *Manifest) ToMap() map[string]any {
	caps := make([]any, 0, len(m.Capabilities))
	for _, c := range m.Capabilities {
		caps = append(caps, c.ToMap())
	}
	return map[string]any{
		"agent_id":     m.AgentID,
		"capabilities": caps,
	}
}

// ManifestFromMap decodes a manifest previously encoded with ToMap.
func ManifestFromMap(mm map[string]any) (*Manifest, error) {
	agentID, err := stringField(mm, "agent_id", true)
	if err != nil {
		return nil, err
	}
	var caps []Capability
	if v, ok := mm["capabilities"]; ok {
		list, ok := v.([]any)
		if !ok {
			return nil, newValidationError("capabilities", fmt.Sprintf("expected sequence, got %T", v))
		}
		caps = make([]Capability, 0, len(list))
		for _, item := range list {
			cm, ok := item.(map[string]any)
			if !ok {
				return nil, newValidationError("capabilities", fmt.Sprintf("expected map element, got %T", item))
			}
			c, err := CapabilityFromMap(cm)
			if err != nil {
				return nil, err
			}
			caps = append(caps, c)
		}
	}
	return NewManifest(agentID, caps)
}

// NegotiationStatus is the outcome class of a capability negotiation.
type NegotiationStatus string

const (
	// NegotiationFull means every required and optional type is covered.
	NegotiationFull NegotiationStatus = "full"
	// NegotiationDegraded means all required types are covered but at least
	// one optional type is not.
	NegotiationDegraded NegotiationStatus = "degraded"
)

// Negotiation is the result of comparing requirements against a provider's
// capability list.
type Negotiation struct {
	Status    NegotiationStatus
	Supported []CapabilityType
	// Warnings carries one message per missing optional type, in the order
	// the caller listed the optional types.
	Warnings []string
}

// Negotiate partitions the provider's enabled capabilities by type and checks
// them against the required and optional type lists. The first required type
// with no enabled capability fails the negotiation, iterating required in
// caller order so the failure is deterministic. Pure function; no shared
// state.
func Negotiate(required, optional []CapabilityType, provider []Capability) (*Negotiation, error) {
	for _, t := range required {
		if !t.Valid() {
			return nil, &ValidationError{Field: "required", Reason: string(t), Err: ErrInvalidCapabilityType}
		}
	}
	for _, t := range optional {
		if !t.Valid() {
			return nil, &ValidationError{Field: "optional", Reason: string(t), Err: ErrInvalidCapabilityType}
		}
	}

	supported := make(map[CapabilityType]bool, len(provider))
	for _, c := range provider {
		if c.Enabled {
			supported[c.Type] = true
		}
	}

	for _, t := range required {
		if !supported[t] {
			return nil, &MissingCapabilityError{Type: t}
		}
	}

	result := &Negotiation{Status: NegotiationFull}
	for t := range supported {
		result.Supported = append(result.Supported, t)
	}
	sort.Slice(result.Supported, func(i, j int) bool {
		return result.Supported[i] < result.Supported[j]
	})
	for _, t := range optional {
		if !supported[t] {
			result.Warnings = append(result.Warnings, fmt.Sprintf("optional capability not available: %s", t))
		}
	}
	if len(result.Warnings) > 0 {
		result.Status = NegotiationDegraded
	}
	return result, nil
}
