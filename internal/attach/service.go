// Package attach orchestrates attachment workflows: binding encrypted part
// files to metadata records, dedup-aware inserts, reference-safe deletion
// and garbage collection.
package attach

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"

	"partstore/internal/blobdir"
	"partstore/internal/models"
	"partstore/internal/notify"
	"partstore/internal/store"
)

// ErrNoContent signals that a record exists but has no local content to
// stream, e.g. an undownloaded placeholder.
var ErrNoContent = errors.New("attachment has no local content")

// StickerFiles lists part files owned by installed sticker packs. The
// abandoned-file sweep must never remove those even though no attachment
// record references them.
type StickerFiles interface {
	StickerFilePaths(ctx context.Context) ([]string, error)
}

// Service orchestrates the metadata store and the encrypted part directory.
// Deletion is two-phase: rows go first, files are unlinked only after the
// transaction commits, so a crash leaves orphan files for the collector
// rather than dangling rows.
type Service struct {
	meta     *store.Store
	blobs    *blobdir.Store
	sink     notify.Sink
	stickers StickerFiles
}

// GCResult reports one abandoned-file sweep.
type GCResult struct {
	CandidateCount int   `json:"candidate_count"`
	DeletedCount   int   `json:"deleted_count"`
	FailedCount    int   `json:"failed_count"`
	ReclaimedBytes int64 `json:"reclaimed_bytes"`
	DryRun         bool  `json:"dry_run"`
}

// NewService constructs a Service. A nil sink discards events; a nil
// stickers source means no sticker files exist.
func NewService(meta *store.Store, blobs *blobdir.Store, sink notify.Sink, stickers StickerFiles) *Service {
	if sink == nil {
		sink = notify.Noop()
	}
	return &Service{meta: meta, blobs: blobs, sink: sink, stickers: stickers}
}

// Insert streams content into a new encrypted part file and records it. When
// the content deduplicates against an existing record, the freshly written
// file is discarded and the new record shares the existing one.
func (s *Service) Insert(ctx context.Context, spec models.AttachmentSpec, r io.Reader) (models.AttachmentID, error) {
	var zero models.AttachmentID

	written, err := s.blobs.Write(ctx, r)
	if err != nil {
		return zero, fmt.Errorf("write part file: %w", err)
	}

	id, dedupHit, err := s.meta.InsertAttachmentWithFile(ctx, spec, store.DataFile{
		Path:   written.Path,
		Length: written.Length,
		Random: written.Random,
		Hash:   written.Hash,
	})
	if err != nil {
		// The metadata row never existed, so the fresh file is an orphan.
		_ = s.blobs.Delete(written.Path)
		return zero, err
	}
	if dedupHit {
		if err := s.blobs.Delete(written.Path); err != nil {
			return zero, fmt.Errorf("discard duplicate part file: %w", err)
		}
	}

	s.sink.AttachmentsChanged(spec.MessageID)
	return id, nil
}

// InsertPlaceholder records an attachment that has no local content yet,
// e.g. an incoming pointer awaiting download.
func (s *Service) InsertPlaceholder(ctx context.Context, spec models.AttachmentSpec) (models.AttachmentID, error) {
	id, err := s.meta.InsertAttachment(ctx, spec)
	if err != nil {
		return models.AttachmentID{}, err
	}
	s.sink.AttachmentsChanged(spec.MessageID)
	return id, nil
}

// Get returns one record, or nil when it does not exist.
func (s *Service) Get(ctx context.Context, id models.AttachmentID) (*models.AttachmentRecord, error) {
	return s.meta.GetAttachment(ctx, id)
}

// ListForMessage lists a message's attachments in display order.
func (s *Service) ListForMessage(ctx context.Context, messageID int64) ([]models.AttachmentRecord, error) {
	return s.meta.ListForMessage(ctx, messageID)
}

// OpenStream returns the decrypted content of a record starting at offset.
// A record whose part file has vanished from disk is downgraded to a
// fileless placeholder so the dedup index stops offering the dead file.
func (s *Service) OpenStream(ctx context.Context, id models.AttachmentID, offset int64) (io.ReadCloser, error) {
	record, err := s.meta.GetAttachment(ctx, id)
	if err != nil {
		return nil, err
	}
	if record == nil {
		return nil, fmt.Errorf("%w: %s", store.ErrNotFound, id)
	}
	if !record.HasData() {
		return nil, fmt.Errorf("%w: %s", ErrNoContent, id)
	}

	stream, err := s.blobs.OpenStream(record.FilePath, record.RandomKey, offset)
	if errors.Is(err, blobdir.ErrStreamNotFound) {
		_ = s.meta.ClearUsagesOfFile(ctx, record.FilePath)
		return nil, err
	}
	return stream, err
}

// OpenMediaSource returns a random-access decrypted view of a record's
// content, suitable for media playback.
func (s *Service) OpenMediaSource(ctx context.Context, id models.AttachmentID) (*blobdir.MediaSource, error) {
	record, err := s.meta.GetAttachment(ctx, id)
	if err != nil {
		return nil, err
	}
	if record == nil {
		return nil, fmt.Errorf("%w: %s", store.ErrNotFound, id)
	}
	if !record.HasData() {
		return nil, fmt.Errorf("%w: %s", ErrNoContent, id)
	}
	return s.blobs.OpenMediaSource(record.FilePath, record.RandomKey, record.Size)
}

// Delete removes one record and unlinks its part file once no strong
// reference remains.
func (s *Service) Delete(ctx context.Context, id models.AttachmentID) error {
	paths, err := s.meta.DeleteAttachment(ctx, id)
	if err != nil {
		return err
	}
	s.unlinkAll(paths)
	s.sink.AttachmentDeleted(id)
	return nil
}

// DeleteForMessage removes every attachment owned by a message.
func (s *Service) DeleteForMessage(ctx context.Context, messageID int64) error {
	paths, err := s.meta.DeleteAttachmentsForMessage(ctx, messageID)
	if err != nil {
		return err
	}
	s.unlinkAll(paths)
	s.sink.AttachmentsChanged(messageID)
	return nil
}

// DeleteAbandonedPreuploads reaps records still parked on the preupload
// sentinel, typically at startup once pending sends have resolved.
func (s *Service) DeleteAbandonedPreuploads(ctx context.Context) error {
	paths, err := s.meta.DeleteAbandonedPreuploads(ctx)
	if err != nil {
		return err
	}
	s.unlinkAll(paths)
	return nil
}

// DeleteAll wipes every record and every part file.
func (s *Service) DeleteAll(ctx context.Context) error {
	if err := s.meta.DeleteAllAttachments(ctx); err != nil {
		return err
	}
	return s.blobs.RemoveAll()
}

// AssignToMessage moves a preuploaded record onto the message that sent it.
func (s *Service) AssignToMessage(ctx context.Context, id models.AttachmentID, messageID int64) error {
	if err := s.meta.UpdateMessageID(ctx, id, messageID); err != nil {
		return err
	}
	s.sink.AttachmentsChanged(messageID)
	return nil
}

// SetTransferState moves a record through the transfer state machine.
func (s *Service) SetTransferState(ctx context.Context, id models.AttachmentID, state models.TransferState) error {
	if err := s.meta.SetTransferState(ctx, id, state); err != nil {
		return err
	}
	s.sink.TransferStateChanged(id, state)
	return nil
}

// MarkTransferFailed marks a transfer failed unless it already failed
// permanently.
func (s *Service) MarkTransferFailed(ctx context.Context, id models.AttachmentID) error {
	if err := s.meta.SetTransferStateFailed(ctx, id); err != nil {
		return err
	}
	s.sink.TransferStateChanged(id, models.TransferFailed)
	return nil
}

// MarkTransferPermanentFailure marks a transfer permanently failed.
func (s *Service) MarkTransferPermanentFailure(ctx context.Context, id models.AttachmentID) error {
	if err := s.meta.SetTransferStatePermanentFailure(ctx, id); err != nil {
		return err
	}
	s.sink.TransferStateChanged(id, models.TransferPermanentFailure)
	return nil
}

// FinalizeUpload stamps a finished upload onto a record and its content-hash
// siblings.
func (s *Service) FinalizeUpload(ctx context.Context, id models.AttachmentID, remote models.RemoteInfo) error {
	if err := s.meta.FinalizeAfterUpload(ctx, id, remote); err != nil {
		return err
	}
	s.sink.TransferStateChanged(id, models.TransferDone)
	return nil
}

// FinalizeDownload streams downloaded content into a part file and binds it
// to a placeholder record. Content that deduplicates against an existing
// record shares its file and the fresh one is discarded.
func (s *Service) FinalizeDownload(ctx context.Context, id models.AttachmentID, r io.Reader) error {
	written, err := s.blobs.Write(ctx, r)
	if err != nil {
		return fmt.Errorf("write part file: %w", err)
	}
	discard, err := s.meta.FinalizeAfterDownload(ctx, id, store.DataFile{
		Path:   written.Path,
		Length: written.Length,
		Random: written.Random,
		Hash:   written.Hash,
	})
	if err != nil {
		_ = s.blobs.Delete(written.Path)
		return err
	}
	if discard {
		if err := s.blobs.Delete(written.Path); err != nil {
			return fmt.Errorf("discard duplicate part file: %w", err)
		}
	}
	s.sink.TransferStateChanged(id, models.TransferDone)
	return nil
}

// UpdateTransform replaces a record's transform properties.
func (s *Service) UpdateTransform(ctx context.Context, id models.AttachmentID, transform models.TransformProperties) error {
	return s.meta.UpdateTransformProperties(ctx, id, transform)
}

// CopyData points the destination record at the source record's file.
func (s *Service) CopyData(ctx context.Context, sourceID, destID models.AttachmentID) error {
	return s.meta.CopyAttachmentData(ctx, sourceID, destID)
}

// UpdateCaption replaces a record's caption.
func (s *Service) UpdateCaption(ctx context.Context, id models.AttachmentID, caption string) error {
	return s.meta.UpdateCaption(ctx, id, caption)
}

// UpdateDisplayOrder applies gallery ordering.
func (s *Service) UpdateDisplayOrder(ctx context.Context, orders map[models.AttachmentID]int) error {
	return s.meta.UpdateDisplayOrder(ctx, orders)
}

// DeleteAbandonedFiles sweeps the parts directory for files no record
// references. Files inside their protection window and sticker files are
// exempt.
func (s *Service) DeleteAbandonedFiles(ctx context.Context, dryRun bool) (*GCResult, error) {
	onDisk, err := s.blobs.ListPartFiles()
	if err != nil {
		return nil, err
	}

	referenced, err := s.meta.ListAllFilePaths(ctx)
	if err != nil {
		return nil, err
	}
	keep := make(map[string]struct{}, len(referenced))
	for _, path := range referenced {
		keep[path] = struct{}{}
	}

	if s.stickers != nil {
		stickerPaths, err := s.stickers.StickerFilePaths(ctx)
		if err != nil {
			return nil, err
		}
		for _, path := range stickerPaths {
			keep[path] = struct{}{}
		}
	}

	result := &GCResult{DryRun: dryRun}
	for _, path := range onDisk {
		if _, ok := keep[path]; ok {
			continue
		}
		if s.blobs.Protector().IsProtected(path) {
			continue
		}
		result.CandidateCount++

		size := int64(0)
		if info, err := os.Stat(path); err == nil {
			size = info.Size()
		}
		if dryRun {
			continue
		}
		if err := s.blobs.Delete(path); err != nil {
			slog.Warn("delete abandoned part file", "path", path, "error", err)
			result.FailedCount++
			continue
		}
		result.DeletedCount++
		result.ReclaimedBytes += size
	}
	return result, nil
}

// TrimAbandoned deletes records whose owning message no longer exists and
// unlinks the files they released.
func (s *Service) TrimAbandoned(ctx context.Context, messageExists func(int64) (bool, error)) (int, error) {
	paths, err := s.meta.TrimAbandonedAttachments(ctx, messageExists)
	if err != nil {
		return 0, err
	}
	s.unlinkAll(paths)
	return len(paths), nil
}

func (s *Service) unlinkAll(paths []string) {
	for _, path := range paths {
		if err := s.blobs.Delete(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			slog.Warn("unlink released part file", "path", path, "error", err)
		}
	}
}
