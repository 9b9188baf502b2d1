package models

import (
	"encoding/json"
	"fmt"
)

// SentMediaQuality is the quality tier requested for outgoing media.
type SentMediaQuality int

const (
	QualityStandard SentMediaQuality = 0
	QualityHigh     SentMediaQuality = 1
)

// Valid reports whether q is a known quality tier.
func (q SentMediaQuality) Valid() bool {
	return q == QualityStandard || q == QualityHigh
}

func (q SentMediaQuality) String() string {
	switch q {
	case QualityStandard:
		return "standard"
	case QualityHigh:
		return "high"
	}
	return fmt.Sprintf("quality(%d)", int(q))
}

const transformCodecVersion = 1

// TransformProperties describes pending or applied content edits that
// affect whether the underlying bytes may be shared between records.
type TransformProperties struct {
	SkipTransform bool
	VideoEdited   bool
	TrimStartUs   int64
	TrimEndUs     int64
	Quality       SentMediaQuality
}

// transformPropertiesV1 is the versioned wire form stored in the
// transform_properties column.
type transformPropertiesV1 struct {
	Version       int   `json:"v"`
	SkipTransform bool  `json:"skip_transform"`
	VideoEdited   bool  `json:"video_edited"`
	TrimStartUs   int64 `json:"trim_start_us"`
	TrimEndUs     int64 `json:"trim_end_us"`
	Quality       int   `json:"quality"`
}

// EmptyTransform returns the zero-value transform.
func EmptyTransform() TransformProperties {
	return TransformProperties{}
}

// ForSkipTransform returns a transform marking content as already processed.
func ForSkipTransform() TransformProperties {
	return TransformProperties{SkipTransform: true}
}

// Edited reports whether the transform invalidates content sharing with
// other records holding the same source bytes.
func (t TransformProperties) Edited() bool {
	return t.VideoEdited || t.TrimStartUs != 0 || t.TrimEndUs != 0
}

// CompatibleWith reports whether two transforms allow their records to share
// one stored file. Quotes are bare references to the original content and
// are always compatible; an edited video never is.
func (t TransformProperties) CompatibleWith(other TransformProperties, newIsQuote bool) bool {
	if newIsQuote {
		return true
	}
	if t.VideoEdited {
		return false
	}
	if t.Quality != other.Quality {
		return false
	}
	if t.VideoEdited != other.VideoEdited {
		return false
	}
	if t.TrimStartUs != other.TrimStartUs || t.TrimEndUs != other.TrimEndUs {
		return false
	}
	return true
}

// Serialize encodes t into its versioned wire form.
func (t TransformProperties) Serialize() (string, error) {
	wire := transformPropertiesV1{
		Version:       transformCodecVersion,
		SkipTransform: t.SkipTransform,
		VideoEdited:   t.VideoEdited,
		TrimStartUs:   t.TrimStartUs,
		TrimEndUs:     t.TrimEndUs,
		Quality:       int(t.Quality),
	}
	data, err := json.Marshal(wire)
	if err != nil {
		return "", fmt.Errorf("marshal transform properties: %w", err)
	}
	return string(data), nil
}

// ParseTransformProperties decodes the versioned wire form. An empty input
// yields the zero transform.
func ParseTransformProperties(raw string) (TransformProperties, error) {
	var zero TransformProperties
	if raw == "" {
		return zero, nil
	}
	var wire transformPropertiesV1
	if err := json.Unmarshal([]byte(raw), &wire); err != nil {
		return zero, fmt.Errorf("parse transform properties: %w", err)
	}
	if wire.Version > transformCodecVersion {
		return zero, fmt.Errorf("unsupported transform properties version %d", wire.Version)
	}
	quality := SentMediaQuality(wire.Quality)
	if !quality.Valid() {
		return zero, fmt.Errorf("invalid quality tier %d", wire.Quality)
	}
	return TransformProperties{
		SkipTransform: wire.SkipTransform,
		VideoEdited:   wire.VideoEdited,
		TrimStartUs:   wire.TrimStartUs,
		TrimEndUs:     wire.TrimEndUs,
		Quality:       quality,
	}, nil
}
