package models

import "strings"

// StickerRef locates a sticker within an installed pack.
type StickerRef struct {
	PackID    string
	PackKey   string
	StickerID int
	Emoji     string
}

// Valid reports whether the locator carries the minimum fields needed to
// resolve a sticker.
func (s *StickerRef) Valid() bool {
	return s != nil && strings.TrimSpace(s.PackID) != "" && s.StickerID >= 0
}
