package main

import (
	"context"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"partstore/internal/attach"
	"partstore/internal/config"
	"partstore/internal/models"
	"partstore/internal/store"
)

// exportRecord is the YAML form of one record. Key material is excluded;
// an export is metadata only and cannot decrypt anything.
type exportRecord struct {
	ID              string `yaml:"id"`
	MessageID       int64  `yaml:"message_id"`
	UUID            string `yaml:"uuid"`
	ContentType     string `yaml:"content_type,omitempty"`
	FileName        string `yaml:"file_name,omitempty"`
	Size            int64  `yaml:"size"`
	HasData         bool   `yaml:"has_data"`
	ContentHash     string `yaml:"content_hash,omitempty"`
	TransferState   string `yaml:"transfer_state"`
	Quote           bool   `yaml:"quote,omitempty"`
	Caption         string `yaml:"caption,omitempty"`
	VoiceNote       bool   `yaml:"voice_note,omitempty"`
	Borderless      bool   `yaml:"borderless,omitempty"`
	Width           int    `yaml:"width,omitempty"`
	Height          int    `yaml:"height,omitempty"`
	DisplayOrder    int    `yaml:"display_order"`
	StickerPackID   string `yaml:"sticker_pack_id,omitempty"`
	StickerID       int    `yaml:"sticker_id,omitempty"`
	VisualHash      string `yaml:"visual_hash,omitempty"`
	CdnNumber       int    `yaml:"cdn_number,omitempty"`
	RemoteLocation  string `yaml:"remote_location,omitempty"`
	UploadTimestamp int64  `yaml:"upload_timestamp,omitempty"`
}

func newExportCmd(cfg *config.Config) *cobra.Command {
	var messageRaw string

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export attachment metadata as YAML",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withService(cfg, func(ctx context.Context, svc *attach.Service, meta *store.Store) error {
				var records []models.AttachmentRecord
				var err error
				if messageRaw != "" {
					messageID, parseErr := parseMessageID(messageRaw)
					if parseErr != nil {
						return parseErr
					}
					records, err = svc.ListForMessage(ctx, messageID)
				} else {
					records, err = meta.ListAll(ctx)
				}
				if err != nil {
					return err
				}

				out := make([]exportRecord, 0, len(records))
				for i := range records {
					out = append(out, newExportRecord(&records[i]))
				}

				encoder := yaml.NewEncoder(os.Stdout)
				defer encoder.Close()
				return encoder.Encode(out)
			})
		},
	}

	cmd.Flags().StringVar(&messageRaw, "message", "", "export only one message's attachments")
	return cmd
}

func newExportRecord(record *models.AttachmentRecord) exportRecord {
	out := exportRecord{
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
		out.StickerPackID = record.Sticker.PackID
		out.StickerID = record.Sticker.StickerID
	}
	return out
}
