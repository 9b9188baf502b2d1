package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"partstore/internal/attach"
	"partstore/internal/blobdir"
	"partstore/internal/config"
	"partstore/internal/models"
	"partstore/internal/notify"
	"partstore/internal/store"
)

func requireExactlyArgs(n int, message string) cobra.PositionalArgs {
	return func(cmd *cobra.Command, args []string) error {
		if len(args) != n {
			return fmt.Errorf("%s", message)
		}
		return nil
	}
}

// withService opens the metadata store and the parts directory for one
// command invocation.
func withService(cfg *config.Config, fn func(ctx context.Context, svc *attach.Service, meta *store.Store) error) error {
	meta, err := store.Open(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("open metadata store: %w", err)
	}
	defer meta.Close()
	meta.SetUploadReuseWindow(cfg.UploadReuseWindow())

	protector := blobdir.NewTempFileProtector(cfg.ProtectionWindow(), nil)
	blobs, err := blobdir.NewStore(cfg.PartsDir, protector)
	if err != nil {
		return fmt.Errorf("open parts dir: %w", err)
	}

	svc := attach.NewService(meta, blobs, notify.Noop(), nil)
	return fn(context.Background(), svc, meta)
}

// parseAttachmentID parses the "rowId/uniqueId" form printed by store.
func parseAttachmentID(raw string) (models.AttachmentID, error) {
	var zero models.AttachmentID
	rowPart, uniquePart, found := strings.Cut(strings.TrimSpace(raw), "/")
	if !found {
		return zero, fmt.Errorf("invalid attachment id %q, expected rowId/uniqueId", raw)
	}
	rowID, err := strconv.ParseInt(rowPart, 10, 64)
	if err != nil {
		return zero, fmt.Errorf("invalid attachment id %q: %w", raw, err)
	}
	uniqueID, err := strconv.ParseInt(uniquePart, 10, 64)
	if err != nil {
		return zero, fmt.Errorf("invalid attachment id %q: %w", raw, err)
	}
	return models.AttachmentID{RowID: rowID, UniqueID: uniqueID}, nil
}

func parseMessageID(raw string) (int64, error) {
	if strings.EqualFold(strings.TrimSpace(raw), "preupload") {
		return models.PreuploadMessageID, nil
	}
	messageID, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid message id %q", raw)
	}
	return messageID, nil
}

func writeJSON(v any) error {
	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	return encoder.Encode(v)
}

func writePlain(format string, args ...any) error {
	_, err := fmt.Fprintf(os.Stdout, format, args...)
	return err
}

// recordView is the display form of a record. Key material stays out of it.
type recordView struct {
	ID              string `json:"id"`
	MessageID       int64  `json:"message_id"`
	UUID            string `json:"uuid"`
	ContentType     string `json:"content_type,omitempty"`
	FileName        string `json:"file_name,omitempty"`
	Size            int64  `json:"size"`
	HasData         bool   `json:"has_data"`
	ContentHash     string `json:"content_hash,omitempty"`
	TransferState   string `json:"transfer_state"`
	Quote           bool   `json:"quote,omitempty"`
	Caption         string `json:"caption,omitempty"`
	VoiceNote       bool   `json:"voice_note,omitempty"`
	Borderless      bool   `json:"borderless,omitempty"`
	Width           int    `json:"width,omitempty"`
	Height          int    `json:"height,omitempty"`
	DisplayOrder    int    `json:"display_order"`
	StickerPackID   string `json:"sticker_pack_id,omitempty"`
	StickerID       int    `json:"sticker_id,omitempty"`
	VisualHash      string `json:"visual_hash,omitempty"`
	CdnNumber       int    `json:"cdn_number,omitempty"`
	RemoteLocation  string `json:"remote_location,omitempty"`
	UploadTimestamp int64  `json:"upload_timestamp,omitempty"`
}

func newRecordView(record *models.AttachmentRecord) recordView {
	view := recordView{
		ID:              record.ID.String(),
		MessageID:       record.MessageID,
		UUID:            record.UUID.String(),
		ContentType:     record.ContentType,
		FileName:        record.FileName,
		Size:            record.Size,
		HasData:         record.HasData(),
		ContentHash:     record.ContentHash,
		TransferState:   record.TransferState.String(),
		Quote:           record.Quote,
		Caption:         record.Caption,
		VoiceNote:       record.VoiceNote,
		Borderless:      record.Borderless,
		Width:           record.Width,
		Height:          record.Height,
		DisplayOrder:    record.DisplayOrder,
		VisualHash:      record.VisualHash.Serialize(),
		CdnNumber:       record.CdnNumber,
		RemoteLocation:  record.RemoteLocation,
		UploadTimestamp: record.UploadTimestamp,
	}
	if record.Sticker != nil {
		view.StickerPackID = record.Sticker.PackID
		view.StickerID = record.Sticker.StickerID
	}
	return view
}

func writeRecord(record *models.AttachmentRecord, jsonOutput bool) error {
	if jsonOutput {
		return writeJSON(newRecordView(record))
	}
	view := newRecordView(record)
	name := view.FileName
	if name == "" {
		name = view.ContentType
	}
	return writePlain("%s msg=%d %s size=%d state=%s has_data=%t\n", view.ID, view.MessageID, name, view.Size, view.TransferState, view.HasData)
}

func formatCLIError(err error) []string {
	if err == nil {
		return nil
	}

	lines := []string{err.Error()}
	switch {
	case errors.Is(err, store.ErrNotFound):
		lines = append(lines, "hint: list attachments with 'partstore ls <message-id>' to find valid ids.")
	case errors.Is(err, blobdir.ErrStreamNotFound):
		lines = append(lines, "hint: the record's file is gone from disk; run 'partstore gc' to reconcile.")
	case errors.Is(err, store.ErrInvalidTransition):
		lines = append(lines, "hint: valid states are done, started, pending_retry, failed, permanent_failure.")
	}
	return lines
}
