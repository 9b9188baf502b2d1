package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"partstore/internal/attach"
	"partstore/internal/config"
	"partstore/internal/models"
	"partstore/internal/store"
)

type storeOptions struct {
	contentType string
	fileName    string
	caption     string
	quote       bool
	voiceNote   bool
	borderless  bool
	width       int
	height      int
	preupload   bool
}

func newStoreCmd(cfg *config.Config, jsonOutput *bool) *cobra.Command {
	opts := &storeOptions{}
	cmd := &cobra.Command{
		Use:   "store <message-id> <path>",
		Short: "Encrypt and store a file as an attachment",
		Args:  requireExactlyArgs(2, "message id and path are required"),
		RunE: func(cmd *cobra.Command, args []string) error {
			messageID, err := parseMessageID(args[0])
			if err != nil {
				return err
			}
			if opts.preupload {
				messageID = models.PreuploadMessageID
			}

			path := args[1]
			file, err := os.Open(path)
			if err != nil {
				return err
			}
			defer file.Close()

			// Local content starts in the done state; there is no transfer
			// to wait for.
			spec := models.AttachmentSpec{
				MessageID:   messageID,
				Quote:       opts.quote,
				ContentType: opts.contentType,
				FileName:    chooseFirst(strings.TrimSpace(opts.fileName), filepath.Base(path)),
				Caption:     opts.caption,
				VoiceNote:   opts.voiceNote,
				Borderless:  opts.borderless,
				Width:       opts.width,
				Height:      opts.height,
			}
			return withService(cfg, func(ctx context.Context, svc *attach.Service, _ *store.Store) error {
				id, err := svc.Insert(ctx, spec, file)
				if err != nil {
					return err
				}
				slog.Debug("stored attachment", "id", id, "message_id", messageID)

				record, err := svc.Get(ctx, id)
				if err != nil {
					return err
				}
				return writeRecord(record, *jsonOutput)
			})
		},
	}

	cmd.Flags().StringVar(&opts.contentType, "content-type", "", "MIME content type")
	cmd.Flags().StringVar(&opts.fileName, "file-name", "", "display file name (defaults to the basename)")
	cmd.Flags().StringVar(&opts.caption, "caption", "", "caption text")
	cmd.Flags().BoolVar(&opts.quote, "quote", false, "store as a quote reference")
	cmd.Flags().BoolVar(&opts.voiceNote, "voice-note", false, "mark as a voice note")
	cmd.Flags().BoolVar(&opts.borderless, "borderless", false, "mark as borderless media")
	cmd.Flags().IntVar(&opts.width, "width", 0, "media width in pixels")
	cmd.Flags().IntVar(&opts.height, "height", 0, "media height in pixels")
	cmd.Flags().BoolVar(&opts.preupload, "preupload", false, "park on the preupload sentinel instead of a message")
	return cmd
}

func newCatCmd(cfg *config.Config) *cobra.Command {
	var offset int64
	cmd := &cobra.Command{
		Use:   "cat <id>",
		Short: "Decrypt an attachment to stdout",
		Args:  requireExactlyArgs(1, "attachment id is required"),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseAttachmentID(args[0])
			if err != nil {
				return err
			}
			return withService(cfg, func(ctx context.Context, svc *attach.Service, _ *store.Store) error {
				stream, err := svc.OpenStream(ctx, id, offset)
				if err != nil {
					return err
				}
				defer stream.Close()
				_, err = io.Copy(os.Stdout, stream)
				return err
			})
		},
	}
	cmd.Flags().Int64Var(&offset, "offset", 0, "byte offset to start reading at")
	return cmd
}

func newLsCmd(cfg *config.Config, jsonOutput *bool) *cobra.Command {
	return &cobra.Command{
		Use:   "ls <message-id>",
		Short: "List a message's attachments",
		Args:  requireExactlyArgs(1, "message id is required"),
		RunE: func(cmd *cobra.Command, args []string) error {
			messageID, err := parseMessageID(args[0])
			if err != nil {
				return err
			}
			return withService(cfg, func(ctx context.Context, svc *attach.Service, _ *store.Store) error {
				records, err := svc.ListForMessage(ctx, messageID)
				if err != nil {
					return err
				}
				if *jsonOutput {
					views := make([]recordView, 0, len(records))
					for i := range records {
						views = append(views, newRecordView(&records[i]))
					}
					return writeJSON(views)
				}
				for i := range records {
					if err := writeRecord(&records[i], false); err != nil {
						return err
					}
				}
				return nil
			})
		},
	}
}

func newShowCmd(cfg *config.Config, jsonOutput *bool) *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Show one attachment record",
		Args:  requireExactlyArgs(1, "attachment id is required"),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseAttachmentID(args[0])
			if err != nil {
				return err
			}
			return withService(cfg, func(ctx context.Context, svc *attach.Service, _ *store.Store) error {
				record, err := svc.Get(ctx, id)
				if err != nil {
					return err
				}
				if record == nil {
					return fmt.Errorf("%w: %s", store.ErrNotFound, id)
				}
				return writeRecord(record, *jsonOutput)
			})
		},
	}
}

func newRmCmd(cfg *config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "rm <id>",
		Short: "Delete one attachment",
		Args:  requireExactlyArgs(1, "attachment id is required"),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseAttachmentID(args[0])
			if err != nil {
				return err
			}
			return withService(cfg, func(ctx context.Context, svc *attach.Service, _ *store.Store) error {
				return svc.Delete(ctx, id)
			})
		},
	}
}

func newRmMessageCmd(cfg *config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "rm-message <message-id>",
		Short: "Delete every attachment owned by a message",
		Args:  requireExactlyArgs(1, "message id is required"),
		RunE: func(cmd *cobra.Command, args []string) error {
			messageID, err := parseMessageID(args[0])
			if err != nil {
				return err
			}
			return withService(cfg, func(ctx context.Context, svc *attach.Service, _ *store.Store) error {
				return svc.DeleteForMessage(ctx, messageID)
			})
		},
	}
}

func newAssignCmd(cfg *config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "assign <id> <message-id>",
		Short: "Move a preuploaded attachment onto a message",
		Args:  requireExactlyArgs(2, "attachment id and message id are required"),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseAttachmentID(args[0])
			if err != nil {
				return err
			}
			messageID, err := parseMessageID(args[1])
			if err != nil {
				return err
			}
			return withService(cfg, func(ctx context.Context, svc *attach.Service, _ *store.Store) error {
				return svc.AssignToMessage(ctx, id, messageID)
			})
		},
	}
}

func newTransferCmd(cfg *config.Config, jsonOutput *bool) *cobra.Command {
	return &cobra.Command{
		Use:   "transfer <id> <state>",
		Short: "Move an attachment through the transfer state machine",
		Args:  requireExactlyArgs(2, "attachment id and state are required"),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseAttachmentID(args[0])
			if err != nil {
				return err
			}
			state, err := models.ParseTransferState(args[1])
			if err != nil {
				return err
			}
			return withService(cfg, func(ctx context.Context, svc *attach.Service, _ *store.Store) error {
				switch state {
				case models.TransferFailed:
					err = svc.MarkTransferFailed(ctx, id)
				case models.TransferPermanentFailure:
					err = svc.MarkTransferPermanentFailure(ctx, id)
				default:
					err = svc.SetTransferState(ctx, id, state)
				}
				if err != nil {
					return err
				}

				record, err := svc.Get(ctx, id)
				if err != nil {
					return err
				}
				if record == nil {
					return fmt.Errorf("%w: %s", store.ErrNotFound, id)
				}
				return writeRecord(record, *jsonOutput)
			})
		},
	}
}

func newCaptionCmd(cfg *config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "caption <id> <text>",
		Short: "Set an attachment's caption",
		Args:  requireExactlyArgs(2, "attachment id and caption are required"),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseAttachmentID(args[0])
			if err != nil {
				return err
			}
			return withService(cfg, func(ctx context.Context, svc *attach.Service, _ *store.Store) error {
				return svc.UpdateCaption(ctx, id, args[1])
			})
		},
	}
}

func chooseFirst(values ...string) string {
	for _, value := range values {
		if value != "" {
			return value
		}
	}
	return ""
}
