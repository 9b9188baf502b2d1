package models

import (
	"fmt"
	"strings"
)

// VisualHashKind tags the representation stored in a VisualHash.
type VisualHashKind string

const (
	VisualHashNone     VisualHashKind = ""
	VisualHashBlur     VisualHashKind = "blur"
	VisualHashWaveform VisualHashKind = "waveform"
)

// VisualHash is a compact perceptual summary of media content: a blurhash
// for images and video, or an audio waveform digest for voice notes.
type VisualHash struct {
	Kind  VisualHashKind
	Value string
}

// IsZero reports whether no visual hash is present.
func (v VisualHash) IsZero() bool {
	return v.Kind == VisualHashNone || v.Value == ""
}

// Serialize returns the tagged column form "kind:value", or "" when unset.
func (v VisualHash) Serialize() string {
	if v.IsZero() {
		return ""
	}
	return string(v.Kind) + ":" + v.Value
}

// ParseVisualHash decodes the tagged column form.
func ParseVisualHash(raw string) (VisualHash, error) {
	if raw == "" {
		return VisualHash{}, nil
	}
	kind, value, found := strings.Cut(raw, ":")
	if !found || value == "" {
		return VisualHash{}, fmt.Errorf("invalid visual hash: %s", raw)
	}
	switch VisualHashKind(kind) {
	case VisualHashBlur, VisualHashWaveform:
		return VisualHash{Kind: VisualHashKind(kind), Value: value}, nil
	}
	return VisualHash{}, fmt.Errorf("invalid visual hash kind: %s", kind)
}
