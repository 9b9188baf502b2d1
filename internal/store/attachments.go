package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"partstore/internal/models"
)

const attachmentColumns = "row_id, unique_id, message_id, uuid, content_type, file_name, size, file_path, random_key, content_hash, transfer_state, transform_properties, quote, caption, voice_note, borderless, width, height, display_order, sticker_pack_id, sticker_pack_key, sticker_id, sticker_emoji, visual_hash, cdn_number, remote_location, remote_key, remote_digest, upload_timestamp"

// ErrNotFound signals that the target attachment row does not exist.
var ErrNotFound = errors.New("attachment not found")

// ErrInvalidTransition signals a transfer-state update the state machine
// forbids.
var ErrInvalidTransition = errors.New("invalid transfer state transition")

// DataFile describes one encrypted part file being bound to a record.
type DataFile struct {
	Path   string
	Length int64
	Random []byte
	Hash   string
}

// InsertAttachment inserts a placeholder record with no local content, e.g.
// an incoming pointer that has yet to be downloaded.
func (s *Store) InsertAttachment(ctx context.Context, spec models.AttachmentSpec) (models.AttachmentID, error) {
	var zero models.AttachmentID
	if !spec.TransferState.Valid() {
		return zero, fmt.Errorf("invalid transfer state %d", int(spec.TransferState))
	}

	transform, err := spec.Transform.Serialize()
	if err != nil {
		return zero, err
	}

	uniqueID := s.now().UnixMilli()
	remote := spec.Remote
	if remote == nil {
		remote = &models.RemoteInfo{}
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO attachments (
			unique_id, message_id, uuid, content_type, file_name, size,
			transfer_state, transform_properties, quote, caption, voice_note,
			borderless, width, height, display_order,
			sticker_pack_id, sticker_pack_key, sticker_id, sticker_emoji,
			visual_hash, cdn_number, remote_location, remote_key, remote_digest,
			upload_timestamp, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		uniqueID,
		spec.MessageID,
		uuid.NewString(),
		nullIfEmpty(strings.TrimSpace(spec.ContentType)),
		nullIfEmpty(strings.TrimSpace(spec.FileName)),
		spec.Size,
		int(spec.TransferState),
		transform,
		boolToInt(spec.Quote),
		nullIfEmpty(spec.Caption),
		boolToInt(spec.VoiceNote),
		boolToInt(spec.Borderless),
		spec.Width,
		spec.Height,
		0,
		stickerPackID(spec.Sticker),
		stickerPackKey(spec.Sticker),
		stickerID(spec.Sticker),
		stickerEmoji(spec.Sticker),
		nullIfEmpty(spec.VisualHash.Serialize()),
		remote.CdnNumber,
		nullIfEmpty(remote.Location),
		nullIfEmpty(remote.Key),
		nullBytes(remote.Digest),
		remote.UploadTimestamp,
		dbFormatTime(s.now()),
	)
	if err != nil {
		return zero, err
	}
	rowID, err := res.LastInsertId()
	if err != nil {
		return zero, err
	}
	return models.AttachmentID{RowID: rowID, UniqueID: uniqueID}, nil
}

// InsertAttachmentWithFile inserts a record bound to a freshly written part
// file, deduplicating against existing content. When an existing record with
// the same content hash and a compatible transform already holds a file, the
// new record points at that file instead and the caller must discard the
// fresh one; dedupHit reports that case. A deduplicated insert additionally
// inherits the sibling's finished upload when it is recent enough, skipping
// a re-upload entirely. The record starts in spec.TransferState, whose zero
// value Done is the initial state for locally sourced content.
func (s *Store) InsertAttachmentWithFile(ctx context.Context, spec models.AttachmentSpec, file DataFile) (_ models.AttachmentID, dedupHit bool, err error) {
	var zero models.AttachmentID
	if file.Path == "" {
		return zero, false, fmt.Errorf("data file path is required")
	}
	if file.Hash == "" {
		return zero, false, fmt.Errorf("data file hash is required")
	}
	if !spec.TransferState.Valid() {
		return zero, false, fmt.Errorf("invalid transfer state %d", int(spec.TransferState))
	}

	transform, err := spec.Transform.Serialize()
	if err != nil {
		return zero, false, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return zero, false, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	match, err := s.findDedupCandidateTx(ctx, tx, file.Hash, spec.Transform, spec.Quote, zero)
	if err != nil {
		return zero, false, err
	}

	path := file.Path
	random := file.Random
	state := spec.TransferState
	remote := models.RemoteInfo{}
	if match != nil {
		dedupHit = true
		path = match.FilePath
		random = match.RandomKey
		if s.uploadReusable(match) {
			state = models.TransferDone
			remote = models.RemoteInfo{
				CdnNumber:       match.CdnNumber,
				Location:        match.RemoteLocation,
				Key:             match.RemoteKey,
				Digest:          match.RemoteDigest,
				UploadTimestamp: match.UploadTimestamp,
			}
		}
	}

	uniqueID := s.now().UnixMilli()
	res, err := tx.ExecContext(ctx, `
		INSERT INTO attachments (
			unique_id, message_id, uuid, content_type, file_name, size,
			file_path, random_key, content_hash,
			transfer_state, transform_properties, quote, caption, voice_note,
			borderless, width, height, display_order,
			sticker_pack_id, sticker_pack_key, sticker_id, sticker_emoji,
			visual_hash, cdn_number, remote_location, remote_key, remote_digest,
			upload_timestamp, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		uniqueID,
		spec.MessageID,
		uuid.NewString(),
		nullIfEmpty(strings.TrimSpace(spec.ContentType)),
		nullIfEmpty(strings.TrimSpace(spec.FileName)),
		file.Length,
		path,
		random,
		file.Hash,
		int(state),
		transform,
		boolToInt(spec.Quote),
		nullIfEmpty(spec.Caption),
		boolToInt(spec.VoiceNote),
		boolToInt(spec.Borderless),
		spec.Width,
		spec.Height,
		0,
		stickerPackID(spec.Sticker),
		stickerPackKey(spec.Sticker),
		stickerID(spec.Sticker),
		stickerEmoji(spec.Sticker),
		nullIfEmpty(spec.VisualHash.Serialize()),
		remote.CdnNumber,
		nullIfEmpty(remote.Location),
		nullIfEmpty(remote.Key),
		nullBytes(remote.Digest),
		remote.UploadTimestamp,
		dbFormatTime(s.now()),
	)
	if err != nil {
		return zero, false, err
	}
	rowID, err := res.LastInsertId()
	if err != nil {
		return zero, false, err
	}

	if err = tx.Commit(); err != nil {
		return zero, false, err
	}
	return models.AttachmentID{RowID: rowID, UniqueID: uniqueID}, dedupHit, nil
}

// findDedupCandidateTx returns a record holding a file with the given content
// hash whose transform allows sharing, or nil. The excluded id is skipped so
// a record being rewritten never matches itself.
func (s *Store) findDedupCandidateTx(ctx context.Context, tx *sql.Tx, hash string, transform models.TransformProperties, newIsQuote bool, exclude models.AttachmentID) (*models.AttachmentRecord, error) {
	rows, err := tx.QueryContext(ctx, `SELECT `+attachmentColumns+` FROM attachments WHERE content_hash = ? AND file_path IS NOT NULL`, hash)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var match *models.AttachmentRecord
	for rows.Next() {
		candidate, err := scanAttachmentRecord(rows)
		if err != nil {
			return nil, err
		}
		if candidate == nil || candidate.ID == exclude {
			continue
		}
		if transform.CompatibleWith(candidate.Transform, newIsQuote) {
			match = candidate
			break
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return match, nil
}

// uploadReusable reports whether a dedup sibling's finished upload is recent
// enough to inherit.
func (s *Store) uploadReusable(record *models.AttachmentRecord) bool {
	if record.TransferState != models.TransferDone {
		return false
	}
	if len(record.RemoteDigest) == 0 || record.RemoteLocation == "" {
		return false
	}
	cutoff := s.now().Add(-s.reuseWindow).UnixMilli()
	return record.UploadTimestamp > cutoff
}

// GetAttachment returns one record, or nil when it does not exist.
func (s *Store) GetAttachment(ctx context.Context, id models.AttachmentID) (*models.AttachmentRecord, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+attachmentColumns+` FROM attachments WHERE row_id = ? AND unique_id = ?`, id.RowID, id.UniqueID)
	return scanAttachmentRecord(row)
}

// ListForMessage lists a message's attachments in stable send order.
func (s *Store) ListForMessage(ctx context.Context, messageID int64) ([]models.AttachmentRecord, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+attachmentColumns+` FROM attachments WHERE message_id = ? ORDER BY display_order ASC, unique_id ASC, row_id ASC`, messageID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectAttachmentRecords(rows)
}

// ListForMessages lists attachments for a batch of messages.
func (s *Store) ListForMessages(ctx context.Context, messageIDs []int64) ([]models.AttachmentRecord, error) {
	if len(messageIDs) == 0 {
		return []models.AttachmentRecord{}, nil
	}
	placeholders := strings.Repeat("?,", len(messageIDs))
	placeholders = placeholders[:len(placeholders)-1]
	args := make([]any, len(messageIDs))
	for i, id := range messageIDs {
		args[i] = id
	}

	rows, err := s.db.QueryContext(ctx, `SELECT `+attachmentColumns+` FROM attachments WHERE message_id IN (`+placeholders+`) ORDER BY message_id ASC, display_order ASC, unique_id ASC, row_id ASC`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectAttachmentRecords(rows)
}

// ListAll lists every record, ordered by owning message.
func (s *Store) ListAll(ctx context.Context) ([]models.AttachmentRecord, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+attachmentColumns+` FROM attachments ORDER BY message_id ASC, display_order ASC, unique_id ASC, row_id ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectAttachmentRecords(rows)
}

// HasAttachmentsForMessage checks whether a message owns any attachments.
func (s *Store) HasAttachmentsForMessage(ctx context.Context, messageID int64) (bool, error) {
	var exists int
	err := s.db.QueryRowContext(ctx, "SELECT 1 FROM attachments WHERE message_id = ? LIMIT 1", messageID).Scan(&exists)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// DeleteAttachment removes one record and returns the part file paths that
// are safe to unlink after the transaction commits. A shared file survives as
// long as any non-quote record still points at it; when only quote records
// remain they are downgraded to fileless placeholders and the file is
// released.
func (s *Store) DeleteAttachment(ctx context.Context, id models.AttachmentID) (_ []string, err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	record, err := getAttachmentTx(ctx, tx, id)
	if err != nil {
		return nil, err
	}
	if record == nil {
		return nil, tx.Commit()
	}

	if _, err = tx.ExecContext(ctx, "DELETE FROM attachments WHERE row_id = ? AND unique_id = ?", id.RowID, id.UniqueID); err != nil {
		return nil, err
	}

	var deletable []string
	if record.HasData() {
		released, err := releaseFileTx(ctx, tx, record.FilePath)
		if err != nil {
			return nil, err
		}
		if released {
			deletable = append(deletable, record.FilePath)
		}
	}

	if err = tx.Commit(); err != nil {
		return nil, err
	}
	return deletable, nil
}

// DeleteAttachmentsForMessage removes every record owned by a message and
// returns the part file paths that are safe to unlink after commit.
func (s *Store) DeleteAttachmentsForMessage(ctx context.Context, messageID int64) (_ []string, err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	rows, err := tx.QueryContext(ctx, "SELECT DISTINCT file_path FROM attachments WHERE message_id = ? AND file_path IS NOT NULL", messageID)
	if err != nil {
		return nil, err
	}
	paths, err := collectStrings(rows)
	if err != nil {
		return nil, err
	}

	if _, err = tx.ExecContext(ctx, "DELETE FROM attachments WHERE message_id = ?", messageID); err != nil {
		return nil, err
	}

	var deletable []string
	for _, path := range paths {
		released, err := releaseFileTx(ctx, tx, path)
		if err != nil {
			return nil, err
		}
		if released {
			deletable = append(deletable, path)
		}
	}

	if err = tx.Commit(); err != nil {
		return nil, err
	}
	return deletable, nil
}

// DeleteAbandonedPreuploads removes records still parked on the preupload
// sentinel, e.g. media uploaded ahead of a send that never happened.
func (s *Store) DeleteAbandonedPreuploads(ctx context.Context) ([]string, error) {
	return s.DeleteAttachmentsForMessage(ctx, models.PreuploadMessageID)
}

// DeleteAllAttachments removes every record. Part files are the caller's
// problem; pair this with a sweep of the parts directory.
func (s *Store) DeleteAllAttachments(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, "DELETE FROM attachments")
	return err
}

// UpdateMessageID reassigns a record to a message, typically moving a
// preupload onto the message that finally sent it.
func (s *Store) UpdateMessageID(ctx context.Context, id models.AttachmentID, messageID int64) error {
	res, err := s.db.ExecContext(ctx, "UPDATE attachments SET message_id = ? WHERE row_id = ? AND unique_id = ?", messageID, id.RowID, id.UniqueID)
	if err != nil {
		return err
	}
	return requireRow(res, id)
}

// FinalizeAfterUpload stamps the finished upload onto the record and every
// sibling sharing its content hash, so later sends can reuse the remote copy
// without re-uploading.
func (s *Store) FinalizeAfterUpload(ctx context.Context, id models.AttachmentID, remote models.RemoteInfo) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	record, err := getAttachmentTx(ctx, tx, id)
	if err != nil {
		return err
	}
	if record == nil {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}

	args := []any{
		remote.CdnNumber,
		nullIfEmpty(remote.Location),
		nullIfEmpty(remote.Key),
		nullBytes(remote.Digest),
		remote.UploadTimestamp,
		int(models.TransferDone),
	}
	if record.ContentHash != "" {
		_, err = tx.ExecContext(ctx, `
			UPDATE attachments
			SET cdn_number = ?, remote_location = ?, remote_key = ?, remote_digest = ?, upload_timestamp = ?, transfer_state = ?
			WHERE content_hash = ?
		`, append(args, record.ContentHash)...)
	} else {
		_, err = tx.ExecContext(ctx, `
			UPDATE attachments
			SET cdn_number = ?, remote_location = ?, remote_key = ?, remote_digest = ?, upload_timestamp = ?, transfer_state = ?
			WHERE row_id = ? AND unique_id = ?
		`, append(args, id.RowID, id.UniqueID)...)
	}
	if err != nil {
		return err
	}

	return tx.Commit()
}

// FinalizeAfterDownload binds downloaded content to a placeholder record and
// marks the transfer done. When another record already holds a file with the
// same content hash and a compatible transform, the record points at that
// file instead; discardFile reports that the caller must delete the fresh
// one.
func (s *Store) FinalizeAfterDownload(ctx context.Context, id models.AttachmentID, file DataFile) (discardFile bool, err error) {
	if file.Path == "" {
		return false, fmt.Errorf("data file path is required")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	record, err := getAttachmentTx(ctx, tx, id)
	if err != nil {
		return false, err
	}
	if record == nil {
		return false, fmt.Errorf("%w: %s", ErrNotFound, id)
	}

	path := file.Path
	random := file.Random
	if file.Hash != "" {
		match, err := s.findDedupCandidateTx(ctx, tx, file.Hash, record.Transform, record.Quote, id)
		if err != nil {
			return false, err
		}
		if match != nil {
			discardFile = true
			path = match.FilePath
			random = match.RandomKey
		}
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE attachments
		SET file_path = ?, random_key = ?, content_hash = ?, size = ?, transfer_state = ?
		WHERE row_id = ? AND unique_id = ?
	`, path, random, nullIfEmpty(file.Hash), file.Length, int(models.TransferDone), id.RowID, id.UniqueID)
	if err != nil {
		return false, err
	}

	if err = tx.Commit(); err != nil {
		return false, err
	}
	return discardFile, nil
}

// UpdateTransformProperties replaces a record's transform. An edit
// invalidates the dedup key, so the target's content hash is cleared and
// future identical uploads will not share its file. A non-editing change
// propagates to every record sharing the hash, keeping dedup candidates
// consistent.
func (s *Store) UpdateTransformProperties(ctx context.Context, id models.AttachmentID, transform models.TransformProperties) (err error) {
	serialized, err := transform.Serialize()
	if err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	record, err := getAttachmentTx(ctx, tx, id)
	if err != nil {
		return err
	}
	if record == nil {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}

	if transform.Edited() {
		_, err = tx.ExecContext(ctx, "UPDATE attachments SET transform_properties = ?, content_hash = NULL WHERE row_id = ? AND unique_id = ?", serialized, id.RowID, id.UniqueID)
	} else if record.ContentHash != "" {
		_, err = tx.ExecContext(ctx, "UPDATE attachments SET transform_properties = ? WHERE content_hash = ?", serialized, record.ContentHash)
	} else {
		_, err = tx.ExecContext(ctx, "UPDATE attachments SET transform_properties = ? WHERE row_id = ? AND unique_id = ?", serialized, id.RowID, id.UniqueID)
	}
	if err != nil {
		return err
	}

	return tx.Commit()
}

// CopyAttachmentData points the destination record at the source record's
// file without duplicating bytes on disk.
func (s *Store) CopyAttachmentData(ctx context.Context, sourceID, destID models.AttachmentID) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	source, err := getAttachmentTx(ctx, tx, sourceID)
	if err != nil {
		return err
	}
	if source == nil {
		return fmt.Errorf("%w: %s", ErrNotFound, sourceID)
	}
	if !source.HasData() {
		return fmt.Errorf("attachment %s has no data to copy", sourceID)
	}

	res, err := tx.ExecContext(ctx, `
		UPDATE attachments
		SET file_path = ?, random_key = ?, content_hash = ?, size = ?, transfer_state = ?
		WHERE row_id = ? AND unique_id = ?
	`, source.FilePath, source.RandomKey, nullIfEmpty(source.ContentHash), source.Size, int(models.TransferDone), destID.RowID, destID.UniqueID)
	if err != nil {
		return err
	}
	if err = requireRow(res, destID); err != nil {
		return err
	}

	return tx.Commit()
}

// SetTransferState moves a record through the transfer state machine,
// rejecting transitions the machine forbids.
func (s *Store) SetTransferState(ctx context.Context, id models.AttachmentID, state models.TransferState) (err error) {
	if !state.Valid() {
		return fmt.Errorf("invalid transfer state %d", int(state))
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	record, err := getAttachmentTx(ctx, tx, id)
	if err != nil {
		return err
	}
	if record == nil {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if !record.TransferState.CanTransition(state) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, record.TransferState, state)
	}

	if _, err = tx.ExecContext(ctx, "UPDATE attachments SET transfer_state = ? WHERE row_id = ? AND unique_id = ?", int(state), id.RowID, id.UniqueID); err != nil {
		return err
	}

	return tx.Commit()
}

// SetTransferStateFailed marks a transfer failed. Records already in
// permanent failure are left untouched.
func (s *Store) SetTransferStateFailed(ctx context.Context, id models.AttachmentID) error {
	_, err := s.db.ExecContext(ctx, "UPDATE attachments SET transfer_state = ? WHERE row_id = ? AND unique_id = ? AND transfer_state != ?",
		int(models.TransferFailed), id.RowID, id.UniqueID, int(models.TransferPermanentFailure))
	return err
}

// SetTransferStatePermanentFailure marks a transfer permanently failed,
// reachable from any state.
func (s *Store) SetTransferStatePermanentFailure(ctx context.Context, id models.AttachmentID) error {
	_, err := s.db.ExecContext(ctx, "UPDATE attachments SET transfer_state = ? WHERE row_id = ? AND unique_id = ?",
		int(models.TransferPermanentFailure), id.RowID, id.UniqueID)
	return err
}

// UpdateCaption replaces a record's caption.
func (s *Store) UpdateCaption(ctx context.Context, id models.AttachmentID, caption string) error {
	res, err := s.db.ExecContext(ctx, "UPDATE attachments SET caption = ? WHERE row_id = ? AND unique_id = ?", nullIfEmpty(caption), id.RowID, id.UniqueID)
	if err != nil {
		return err
	}
	return requireRow(res, id)
}

// UpdateDisplayOrder applies per-record gallery ordering in one transaction.
func (s *Store) UpdateDisplayOrder(ctx context.Context, orders map[models.AttachmentID]int) (err error) {
	if len(orders) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	for id, order := range orders {
		if _, err = tx.ExecContext(ctx, "UPDATE attachments SET display_order = ? WHERE row_id = ? AND unique_id = ?", order, id.RowID, id.UniqueID); err != nil {
			return err
		}
	}

	return tx.Commit()
}

// ListAllFilePaths returns every part file path referenced by any record.
func (s *Store) ListAllFilePaths(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT DISTINCT file_path FROM attachments WHERE file_path IS NOT NULL")
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectStrings(rows)
}

// ClearUsagesOfFile downgrades every record pointing at path to a fileless
// placeholder, used when the file has vanished or failed verification.
func (s *Store) ClearUsagesOfFile(ctx context.Context, path string) error {
	_, err := s.db.ExecContext(ctx, "UPDATE attachments SET file_path = NULL, random_key = NULL, content_hash = NULL WHERE file_path = ?", path)
	return err
}

// TrimAbandonedAttachments deletes records whose owning message no longer
// exists and returns the part file paths released by the deletions. The
// preupload sentinel is exempt; those records are reaped separately.
func (s *Store) TrimAbandonedAttachments(ctx context.Context, messageExists func(int64) (bool, error)) ([]string, error) {
	if messageExists == nil {
		return nil, fmt.Errorf("messageExists is required")
	}

	rows, err := s.db.QueryContext(ctx, "SELECT DISTINCT message_id FROM attachments WHERE message_id != ?", models.PreuploadMessageID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var messageIDs []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		messageIDs = append(messageIDs, id)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	var deletable []string
	for _, messageID := range messageIDs {
		exists, err := messageExists(messageID)
		if err != nil {
			return nil, err
		}
		if exists {
			continue
		}
		paths, err := s.DeleteAttachmentsForMessage(ctx, messageID)
		if err != nil {
			return nil, err
		}
		deletable = append(deletable, paths...)
	}
	return deletable, nil
}

// releaseFileTx decides whether a part file may be unlinked now that a record
// pointing at it is gone. Any surviving non-quote reference keeps the file;
// surviving quote-only references are downgraded to fileless placeholders.
func releaseFileTx(ctx context.Context, tx *sql.Tx, path string) (bool, error) {
	rows, err := tx.QueryContext(ctx, "SELECT quote FROM attachments WHERE file_path = ?", path)
	if err != nil {
		return false, err
	}
	defer rows.Close()

	references := 0
	strongRef := false
	for rows.Next() {
		var quote int
		if err := rows.Scan(&quote); err != nil {
			return false, err
		}
		if quote == 0 {
			strongRef = true
			break
		}
		references++
	}
	if err := rows.Err(); err != nil {
		return false, err
	}
	if strongRef {
		return false, nil
	}

	if references > 0 {
		if _, err := tx.ExecContext(ctx, "UPDATE attachments SET file_path = NULL, random_key = NULL, content_hash = NULL WHERE file_path = ?", path); err != nil {
			return false, err
		}
	}
	return true, nil
}

func getAttachmentTx(ctx context.Context, tx *sql.Tx, id models.AttachmentID) (*models.AttachmentRecord, error) {
	row := tx.QueryRowContext(ctx, `SELECT `+attachmentColumns+` FROM attachments WHERE row_id = ? AND unique_id = ?`, id.RowID, id.UniqueID)
	return scanAttachmentRecord(row)
}

func collectAttachmentRecords(rows *sql.Rows) ([]models.AttachmentRecord, error) {
	records := []models.AttachmentRecord{}
	for rows.Next() {
		record, err := scanAttachmentRecord(rows)
		if err != nil {
			return nil, err
		}
		if record == nil {
			continue
		}
		records = append(records, *record)
	}
	return records, rows.Err()
}

func collectStrings(rows *sql.Rows) ([]string, error) {
	defer rows.Close()
	out := []string{}
	for rows.Next() {
		var value string
		if err := rows.Scan(&value); err != nil {
			return nil, err
		}
		out = append(out, value)
	}
	return out, rows.Err()
}

func scanAttachmentRecord(scanner interface {
	Scan(dest ...any) error
}) (*models.AttachmentRecord, error) {
	record := models.AttachmentRecord{}

	var recordUUID, contentType, fileName sql.NullString
	var filePath, contentHash, transform, caption sql.NullString
	var stickerPackID, stickerPackKey, stickerEmoji sql.NullString
	var stickerIDValue int
	var visualHash, remoteLocation, remoteKey sql.NullString
	var transferState, quote, voiceNote, borderless int

	err := scanner.Scan(
		&record.ID.RowID,
		&record.ID.UniqueID,
		&record.MessageID,
		&recordUUID,
		&contentType,
		&fileName,
		&record.Size,
		&filePath,
		&record.RandomKey,
		&contentHash,
		&transferState,
		&transform,
		&quote,
		&caption,
		&voiceNote,
		&borderless,
		&record.Width,
		&record.Height,
		&record.DisplayOrder,
		&stickerPackID,
		&stickerPackKey,
		&stickerIDValue,
		&stickerEmoji,
		&visualHash,
		&record.CdnNumber,
		&remoteLocation,
		&remoteKey,
		&record.RemoteDigest,
		&record.UploadTimestamp,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}

	record.ContentType = contentType.String
	record.FileName = fileName.String
	record.FilePath = filePath.String
	record.ContentHash = contentHash.String
	record.TransferState = models.TransferState(transferState)
	record.Quote = quote != 0
	record.Caption = caption.String
	record.VoiceNote = voiceNote != 0
	record.Borderless = borderless != 0
	record.RemoteLocation = remoteLocation.String
	record.RemoteKey = remoteKey.String

	if recordUUID.Valid && recordUUID.String != "" {
		parsed, err := uuid.Parse(recordUUID.String)
		if err != nil {
			return nil, fmt.Errorf("parse attachment uuid: %w", err)
		}
		record.UUID = parsed
	}

	parsedTransform, err := models.ParseTransformProperties(transform.String)
	if err != nil {
		return nil, err
	}
	record.Transform = parsedTransform

	parsedVisualHash, err := models.ParseVisualHash(visualHash.String)
	if err != nil {
		return nil, err
	}
	record.VisualHash = parsedVisualHash

	if stickerPackID.Valid && stickerPackID.String != "" {
		record.Sticker = &models.StickerRef{
			PackID:    stickerPackID.String,
			PackKey:   stickerPackKey.String,
			StickerID: stickerIDValue,
			Emoji:     stickerEmoji.String,
		}
	}

	return &record, nil
}

func requireRow(res sql.Result, id models.AttachmentID) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return nil
}

func nullIfEmpty(value string) any {
	if value == "" {
		return nil
	}
	return value
}

func nullBytes(value []byte) any {
	if len(value) == 0 {
		return nil
	}
	return value
}

func boolToInt(value bool) int {
	if value {
		return 1
	}
	return 0
}

func stickerPackID(sticker *models.StickerRef) any {
	if !sticker.Valid() {
		return nil
	}
	return sticker.PackID
}

func stickerPackKey(sticker *models.StickerRef) any {
	if !sticker.Valid() {
		return nil
	}
	return sticker.PackKey
}

func stickerID(sticker *models.StickerRef) int {
	if !sticker.Valid() {
		return -1
	}
	return sticker.StickerID
}

func stickerEmoji(sticker *models.StickerRef) any {
	if !sticker.Valid() || sticker.Emoji == "" {
		return nil
	}
	return sticker.Emoji
}

func dbFormatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}
