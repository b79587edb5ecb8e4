package session

import (
	"errors"
	"testing"
)

func TestNewManifestRejectsDuplicates(t *testing.T) {
	_, err := NewManifest("test-agent", []Capability{
		{Type: CapabilityTool, Name: "search", Enabled: true},
		{Type: CapabilityTool, Name: "search", Enabled: false},
	})
	if !errors.Is(err, ErrDuplicateCapability) {
		t.Errorf("expected ErrDuplicateCapability, got %v", err)
	}

	// Same type with a different name is fine.
	m, err := NewManifest("test-agent", []Capability{
		{Type: CapabilityTool, Name: "search", Enabled: true},
		{Type: CapabilityTool, Name: "calculator", Enabled: true},
	})
	if err != nil {
		t.Fatalf("NewManifest() error = %v", err)
	}
	if len(m.Capabilities) != 2 {
		t.Errorf("Capabilities = %v", m.Capabilities)
	}
}

func TestCapabilityValidate(t *testing.T) {
	if err := (Capability{Type: CapabilitySampling, Name: "chat"}).Validate(); err != nil {
		t.Errorf("Validate() error = %v", err)
	}
	if err := (Capability{Type: "bogus", Name: "chat"}).Validate(); !errors.Is(err, ErrInvalidCapabilityType) {
		t.Errorf("expected ErrInvalidCapabilityType, got %v", err)
	}
	if err := (Capability{Type: CapabilitySampling}).Validate(); err == nil {
		t.Error("expected error for empty name")
	}
}

func TestNegotiateFull(t *testing.T) {
	provider := []Capability{
		{Type: CapabilitySampling, Name: "chat", Enabled: true},
		{Type: CapabilityTool, Name: "search", Enabled: true},
	}
	result, err := Negotiate(
		[]CapabilityType{CapabilitySampling},
		[]CapabilityType{CapabilityTool},
		provider,
	)
	if err != nil {
		t.Fatalf("Negotiate() error = %v", err)
	}
	if result.Status != NegotiationFull {
		t.Errorf("Status = %v, want %v", result.Status, NegotiationFull)
	}
	if len(result.Warnings) != 0 {
		t.Errorf("Warnings = %v, want none", result.Warnings)
	}
	if len(result.Supported) != 2 {
		t.Errorf("Supported = %v", result.Supported)
	}
	// Supported list is sorted.
	if result.Supported[0] != CapabilitySampling || result.Supported[1] != CapabilityTool {
		t.Errorf("Supported order = %v", result.Supported)
	}
}

func TestNegotiateMissingRequired(t *testing.T) {
	provider := []Capability{
		{Type: CapabilitySampling, Name: "chat", Enabled: true},
	}
	_, err := Negotiate(
		[]CapabilityType{CapabilityVision, CapabilityMemory},
		nil,
		provider,
	)
	var missing *MissingCapabilityError
	if !errors.As(err, &missing) {
		t.Fatalf("expected MissingCapabilityError, got %v", err)
	}
	// First missing type in caller order is reported.
	if missing.Type != CapabilityVision {
		t.Errorf("Type = %v, want %v", missing.Type, CapabilityVision)
	}
}

func TestNegotiateDegraded(t *testing.T) {
	provider := []Capability{
		{Type: CapabilitySampling, Name: "chat", Enabled: true},
	}
	result, err := Negotiate(
		[]CapabilityType{CapabilitySampling},
		[]CapabilityType{CapabilityVision, CapabilityMemory},
		provider,
	)
	if err != nil {
		t.Fatalf("Negotiate() error = %v", err)
	}
	if result.Status != NegotiationDegraded {
		t.Errorf("Status = %v, want %v", result.Status, NegotiationDegraded)
	}
	if len(result.Warnings) != 2 {
		t.Fatalf("Warnings = %v, want 2", result.Warnings)
	}
	// Warnings follow caller order of the optional list.
	if result.Warnings[0] != "optional capability not available: vision" {
		t.Errorf("Warnings[0] = %q", result.Warnings[0])
	}
	if result.Warnings[1] != "optional capability not available: memory" {
		t.Errorf("Warnings[1] = %q", result.Warnings[1])
	}
}

func TestNegotiateDisabledDoesNotCount(t *testing.T) {
	provider := []Capability{
		{Type: CapabilitySampling, Name: "chat", Enabled: false},
	}
	_, err := Negotiate([]CapabilityType{CapabilitySampling}, nil, provider)
	var missing *MissingCapabilityError
	if !errors.As(err, &missing) {
		t.Fatalf("expected MissingCapabilityError, got %v", err)
	}
}

func TestNegotiateInvalidVocabulary(t *testing.T) {
	if _, err := Negotiate([]CapabilityType{"bogus"}, nil, nil); !errors.Is(err, ErrInvalidCapabilityType) {
		t.Errorf("expected ErrInvalidCapabilityType for required, got %v", err)
	}
	if _, err := Negotiate(nil, []CapabilityType{"bogus"}, nil); !errors.Is(err, ErrInvalidCapabilityType) {
		t.Errorf("expected ErrInvalidCapabilityType for optional, got %v", err)
	}
}

func TestNegotiateEmptyRequirements(t *testing.T) {
	result, err := Negotiate(nil, nil, nil)
	if err != nil {
		t.Fatalf("Negotiate() error = %v", err)
	}
	if result.Status != NegotiationFull {
		t.Errorf("Status = %v, want %v", result.Status, NegotiationFull)
	}
}
