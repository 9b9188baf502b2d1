package models

import (
	"fmt"

	"github.com/google/uuid"
)

// PreuploadMessageID marks records that were pre-uploaded before being
// assigned to a real message. Records carrying it are reaped at startup by
// DeleteAbandonedPreuploads once all pending sends have been resolved.
const PreuploadMessageID int64 = -8675309

// AttachmentID is the composite key of one attachment record. RowID is the
// metadata row's primary key; UniqueID is assigned from the wall clock at
// creation time and never reused, so a deleted row's identity cannot be
// silently reassigned to a new logical attachment.
type AttachmentID struct {
	RowID    int64
	UniqueID int64
}

func (id AttachmentID) String() string {
	return fmt.Sprintf("%d/%d", id.RowID, id.UniqueID)
}

// IsZero reports whether the id is unset.
func (id AttachmentID) IsZero() bool {
	return id.RowID == 0 && id.UniqueID == 0
}

// AttachmentRecord is one logical attachment. Multiple records may point at
// the same encrypted part file when their content hashes match.
type AttachmentRecord struct {
	ID          AttachmentID
	MessageID   int64
	UUID        uuid.UUID
	ContentType string
	FileName    string
	Size        int64

	// FilePath is empty until content has been materialized on disk.
	FilePath string
	// RandomKey is the 32-byte per-file key material. Absent key material
	// means the file is in the legacy format encrypted with the device
	// secret alone.
	RandomKey []byte
	// ContentHash is the base64 SHA-256 of the plaintext, used as the dedup
	// key. Cleared when an edit invalidates content sharing.
	ContentHash string

	TransferState TransferState
	Transform     TransformProperties

	Quote        bool
	Caption      string
	VoiceNote    bool
	Borderless   bool
	Width        int
	Height       int
	DisplayOrder int

	Sticker    *StickerRef
	VisualHash VisualHash

	// Remote-upload metadata, set once the attachment has been uploaded.
	CdnNumber       int
	RemoteLocation  string
	RemoteKey       string
	RemoteDigest    []byte
	UploadTimestamp int64
}

// HasData reports whether the record's content has been materialized.
func (r *AttachmentRecord) HasData() bool {
	return r != nil && r.FilePath != ""
}

// RemoteInfo carries the upload metadata applied to a record (and its hash
// siblings) after one physical upload completes.
type RemoteInfo struct {
	CdnNumber       int
	Location        string
	Key             string
	Digest          []byte
	UploadTimestamp int64
}

// AttachmentSpec describes a new attachment at insert time.
type AttachmentSpec struct {
	// MessageID is the owning message, or PreuploadMessageID for records
	// uploaded ahead of send.
	MessageID   int64
	Quote       bool
	ContentType string
	FileName    string
	Size        int64
	Caption     string
	VoiceNote   bool
	Borderless  bool
	Width       int
	Height      int
	Transform   TransformProperties
	Sticker     *StickerRef
	VisualHash  VisualHash

	// TransferState the record starts in. The zero value Done is the
	// initial state for locally sourced content; placeholder inserts of
	// not-yet-downloaded content set PendingRetry or Started.
	TransferState TransferState

	// Remote metadata for placeholder inserts pointing at undownloaded
	// remote content.
	Remote *RemoteInfo
}
