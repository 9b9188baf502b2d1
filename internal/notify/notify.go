// Package notify fans attachment lifecycle events out to interested
// observers, e.g. a UI layer invalidating thumbnails.
package notify

import "partstore/internal/models"

// Sink receives attachment lifecycle events. Implementations must be safe
// for concurrent use and must not block.
type Sink interface {
	AttachmentsChanged(messageID int64)
	AttachmentDeleted(id models.AttachmentID)
	TransferStateChanged(id models.AttachmentID, state models.TransferState)
}

// Funcs adapts plain functions to Sink. Nil fields are skipped.
type Funcs struct {
	OnAttachmentsChanged   func(messageID int64)
	OnAttachmentDeleted    func(id models.AttachmentID)
	OnTransferStateChanged func(id models.AttachmentID, state models.TransferState)
}

func (f Funcs) AttachmentsChanged(messageID int64) {
	if f.OnAttachmentsChanged != nil {
		f.OnAttachmentsChanged(messageID)
	}
}

func (f Funcs) AttachmentDeleted(id models.AttachmentID) {
	if f.OnAttachmentDeleted != nil {
		f.OnAttachmentDeleted(id)
	}
}

func (f Funcs) TransferStateChanged(id models.AttachmentID, state models.TransferState) {
	if f.OnTransferStateChanged != nil {
		f.OnTransferStateChanged(id, state)
	}
}

// Noop returns a sink that discards every event.
func Noop() Sink {
	return Funcs{}
}
