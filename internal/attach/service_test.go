package attach

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"partstore/internal/blobdir"
	"partstore/internal/models"
	"partstore/internal/notify"
	"partstore/internal/store"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func testService(t *testing.T, sink notify.Sink, stickers StickerFiles) (*Service, *blobdir.Store, *testClock) {
	t.Helper()

	clock := &testClock{now: time.Now()}
	protector := blobdir.NewTempFileProtector(blobdir.DefaultProtectionWindow, clock.Now)

	blobs, err := blobdir.NewStore(t.TempDir(), protector)
	if err != nil {
		t.Fatalf("new part store: %v", err)
	}
	meta, err := store.Open(filepath.Join(t.TempDir(), "attachments.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = meta.Close() })

	return NewService(meta, blobs, sink, stickers), blobs, clock
}

func readStream(t *testing.T, svc *Service, id models.AttachmentID) string {
	t.Helper()
	stream, err := svc.OpenStream(context.Background(), id, 0)
	if err != nil {
		t.Fatalf("open stream for %s: %v", id, err)
	}
	defer stream.Close()
	data, err := io.ReadAll(stream)
	if err != nil {
		t.Fatalf("read stream for %s: %v", id, err)
	}
	return string(data)
}

func countPartFiles(t *testing.T, blobs *blobdir.Store) int {
	t.Helper()
	paths, err := blobs.ListPartFiles()
	if err != nil {
		t.Fatalf("list part files: %v", err)
	}
	return len(paths)
}

func TestInsertReadRoundTrip(t *testing.T) {
	svc, _, _ := testService(t, nil, nil)
	ctx := context.Background()

	id, err := svc.Insert(ctx, models.AttachmentSpec{MessageID: 1, ContentType: "text/plain", FileName: "note.txt"}, strings.NewReader("hello attachment"))
	if err != nil {
		t.Fatalf("insert: %v", err)
	}

	if got := readStream(t, svc, id); got != "hello attachment" {
		t.Fatalf("round trip mismatch: %q", got)
	}

	record, err := svc.Get(ctx, id)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if record.Size != int64(len("hello attachment")) {
		t.Fatalf("size mismatch: %d", record.Size)
	}
	if record.TransferState != models.TransferDone {
		t.Fatalf("local content needs no transfer, got %s", record.TransferState)
	}
}

func TestDedupKeepsOneFileOnDisk(t *testing.T) {
	svc, blobs, _ := testService(t, nil, nil)
	ctx := context.Background()

	first, err := svc.Insert(ctx, models.AttachmentSpec{MessageID: 1}, strings.NewReader("foo"))
	if err != nil {
		t.Fatalf("first insert: %v", err)
	}
	second, err := svc.Insert(ctx, models.AttachmentSpec{MessageID: 2}, strings.NewReader("foo"))
	if err != nil {
		t.Fatalf("second insert: %v", err)
	}

	if n := countPartFiles(t, blobs); n != 1 {
		t.Fatalf("identical content must share one file, got %d", n)
	}

	// Deleting one reference keeps the shared file readable through the
	// other.
	if err := svc.Delete(ctx, first); err != nil {
		t.Fatalf("delete first: %v", err)
	}
	if n := countPartFiles(t, blobs); n != 1 {
		t.Fatalf("file must survive the first delete, got %d files", n)
	}
	if got := readStream(t, svc, second); got != "foo" {
		t.Fatalf("surviving reference unreadable: %q", got)
	}

	// Deleting the last strong reference unlinks the file.
	if err := svc.Delete(ctx, second); err != nil {
		t.Fatalf("delete second: %v", err)
	}
	if n := countPartFiles(t, blobs); n != 0 {
		t.Fatalf("file must be unlinked after the last delete, got %d files", n)
	}
}

func TestQuoteReferenceDoesNotPinFile(t *testing.T) {
	svc, blobs, _ := testService(t, nil, nil)
	ctx := context.Background()

	original, err := svc.Insert(ctx, models.AttachmentSpec{MessageID: 1}, strings.NewReader("foo"))
	if err != nil {
		t.Fatalf("insert original: %v", err)
	}
	quote, err := svc.Insert(ctx, models.AttachmentSpec{MessageID: 2, Quote: true}, strings.NewReader("foo"))
	if err != nil {
		t.Fatalf("insert quote: %v", err)
	}

	if err := svc.Delete(ctx, original); err != nil {
		t.Fatalf("delete original: %v", err)
	}
	if n := countPartFiles(t, blobs); n != 0 {
		t.Fatalf("quote-only reference must not pin the file, got %d files", n)
	}

	record, err := svc.Get(ctx, quote)
	if err != nil {
		t.Fatalf("get quote: %v", err)
	}
	if record == nil {
		t.Fatal("quote record must survive")
	}
	if record.HasData() {
		t.Fatal("quote must be downgraded to a fileless placeholder")
	}
	if _, err := svc.OpenStream(ctx, quote, 0); !errors.Is(err, ErrNoContent) {
		t.Fatalf("expected ErrNoContent, got %v", err)
	}
}

func TestPlaceholderDownloadFlow(t *testing.T) {
	svc, _, _ := testService(t, nil, nil)
	ctx := context.Background()

	id, err := svc.InsertPlaceholder(ctx, models.AttachmentSpec{
		MessageID:     9,
		ContentType:   "image/jpeg",
		TransferState: models.TransferPendingRetry,
		Remote:        &models.RemoteInfo{CdnNumber: 2, Location: "cdn/abc", Key: "k", Digest: []byte{1}},
	})
	if err != nil {
		t.Fatalf("insert placeholder: %v", err)
	}

	if _, err := svc.OpenStream(ctx, id, 0); !errors.Is(err, ErrNoContent) {
		t.Fatalf("expected ErrNoContent before download, got %v", err)
	}

	if err := svc.SetTransferState(ctx, id, models.TransferStarted); err != nil {
		t.Fatalf("start transfer: %v", err)
	}
	if err := svc.FinalizeDownload(ctx, id, strings.NewReader("downloaded bytes")); err != nil {
		t.Fatalf("finalize download: %v", err)
	}

	if got := readStream(t, svc, id); got != "downloaded bytes" {
		t.Fatalf("downloaded content mismatch: %q", got)
	}
	record, err := svc.Get(ctx, id)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if record.TransferState != models.TransferDone {
		t.Fatalf("expected done after download, got %s", record.TransferState)
	}
}

func TestDownloadDeduplicatesAgainstExistingFile(t *testing.T) {
	svc, blobs, _ := testService(t, nil, nil)
	ctx := context.Background()

	existing, err := svc.Insert(ctx, models.AttachmentSpec{MessageID: 1}, strings.NewReader("shared bytes"))
	if err != nil {
		t.Fatalf("insert existing: %v", err)
	}
	placeholder, err := svc.InsertPlaceholder(ctx, models.AttachmentSpec{MessageID: 2, TransferState: models.TransferStarted})
	if err != nil {
		t.Fatalf("insert placeholder: %v", err)
	}

	if err := svc.FinalizeDownload(ctx, placeholder, strings.NewReader("shared bytes")); err != nil {
		t.Fatalf("finalize download: %v", err)
	}

	if n := countPartFiles(t, blobs); n != 1 {
		t.Fatalf("downloaded duplicate must share the existing file, got %d files", n)
	}

	first, err := svc.Get(ctx, existing)
	if err != nil {
		t.Fatalf("get existing: %v", err)
	}
	second, err := svc.Get(ctx, placeholder)
	if err != nil {
		t.Fatalf("get placeholder: %v", err)
	}
	if second.FilePath != first.FilePath {
		t.Fatalf("expected shared file path, got %q vs %q", second.FilePath, first.FilePath)
	}
	if got := readStream(t, svc, placeholder); got != "shared bytes" {
		t.Fatalf("shared content unreadable: %q", got)
	}
}

func TestVanishedFileDowngradesRecord(t *testing.T) {
	svc, _, _ := testService(t, nil, nil)
	ctx := context.Background()

	id, err := svc.Insert(ctx, models.AttachmentSpec{MessageID: 1}, strings.NewReader("fragile"))
	if err != nil {
		t.Fatalf("insert: %v", err)
	}
	record, err := svc.Get(ctx, id)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if err := os.Remove(record.FilePath); err != nil {
		t.Fatalf("remove file out of band: %v", err)
	}

	if _, err := svc.OpenStream(ctx, id, 0); !errors.Is(err, blobdir.ErrStreamNotFound) {
		t.Fatalf("expected ErrStreamNotFound, got %v", err)
	}

	record, err = svc.Get(ctx, id)
	if err != nil {
		t.Fatalf("get after downgrade: %v", err)
	}
	if record.HasData() || record.ContentHash != "" {
		t.Fatalf("record must be downgraded after its file vanished: %+v", record)
	}
}

func TestMediaSourceThroughService(t *testing.T) {
	svc, _, _ := testService(t, nil, nil)
	ctx := context.Background()

	id, err := svc.Insert(ctx, models.AttachmentSpec{MessageID: 1, ContentType: "video/mp4"}, strings.NewReader("0123456789"))
	if err != nil {
		t.Fatalf("insert: %v", err)
	}

	src, err := svc.OpenMediaSource(ctx, id)
	if err != nil {
		t.Fatalf("open media source: %v", err)
	}
	defer src.Close()

	buf := make([]byte, 4)
	if _, err := src.ReadAt(buf, 3); err != nil && err != io.EOF {
		t.Fatalf("read at: %v", err)
	}
	if string(buf) != "3456" {
		t.Fatalf("media source mismatch: %q", buf)
	}
}

func TestDeleteAbandonedFilesSweep(t *testing.T) {
	svc, blobs, clock := testService(t, nil, nil)
	ctx := context.Background()

	if _, err := svc.Insert(ctx, models.AttachmentSpec{MessageID: 1}, strings.NewReader("referenced")); err != nil {
		t.Fatalf("insert: %v", err)
	}
	// An orphan: written but never recorded.
	orphan, err := blobs.Write(ctx, strings.NewReader("orphaned bytes"))
	if err != nil {
		t.Fatalf("write orphan: %v", err)
	}

	// Inside the protection window the orphan is untouchable.
	result, err := svc.DeleteAbandonedFiles(ctx, false)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if result.CandidateCount != 0 || result.DeletedCount != 0 {
		t.Fatalf("protected orphan must be skipped: %+v", result)
	}

	clock.Advance(blobdir.DefaultProtectionWindow + time.Minute)
	// The sweep also consults mtime, so age the file itself.
	stale := time.Now().Add(-blobdir.DefaultProtectionWindow - time.Minute)
	if err := os.Chtimes(orphan.Path, stale, stale); err != nil {
		t.Fatalf("chtimes: %v", err)
	}

	// Dry run counts without deleting.
	result, err = svc.DeleteAbandonedFiles(ctx, true)
	if err != nil {
		t.Fatalf("dry run: %v", err)
	}
	if result.CandidateCount != 1 || result.DeletedCount != 0 || !result.DryRun {
		t.Fatalf("dry run mismatch: %+v", result)
	}
	if n := countPartFiles(t, blobs); n != 2 {
		t.Fatalf("dry run must not delete, got %d files", n)
	}

	result, err = svc.DeleteAbandonedFiles(ctx, false)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if result.DeletedCount != 1 || result.ReclaimedBytes != int64(len("orphaned bytes")) {
		t.Fatalf("sweep mismatch: %+v", result)
	}
	if n := countPartFiles(t, blobs); n != 1 {
		t.Fatalf("expected only the referenced file to remain, got %d", n)
	}
}

type fakeStickerFiles struct {
	paths []string
}

func (f *fakeStickerFiles) StickerFilePaths(ctx context.Context) ([]string, error) {
	return f.paths, nil
}

func TestSweepSparesStickerFiles(t *testing.T) {
	stickers := &fakeStickerFiles{}
	svc, blobs, clock := testService(t, nil, stickers)
	ctx := context.Background()

	written, err := blobs.Write(ctx, strings.NewReader("sticker bytes"))
	if err != nil {
		t.Fatalf("write sticker file: %v", err)
	}
	stickers.paths = []string{written.Path}

	clock.Advance(blobdir.DefaultProtectionWindow + time.Minute)
	stale := time.Now().Add(-blobdir.DefaultProtectionWindow - time.Minute)
	if err := os.Chtimes(written.Path, stale, stale); err != nil {
		t.Fatalf("chtimes: %v", err)
	}

	result, err := svc.DeleteAbandonedFiles(ctx, false)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if result.CandidateCount != 0 {
		t.Fatalf("sticker file must not be a candidate: %+v", result)
	}
	if n := countPartFiles(t, blobs); n != 1 {
		t.Fatal("sticker file must survive the sweep")
	}
}

func TestTrimAbandonedThroughService(t *testing.T) {
	svc, blobs, _ := testService(t, nil, nil)
	ctx := context.Background()

	if _, err := svc.Insert(ctx, models.AttachmentSpec{MessageID: 1}, strings.NewReader("live")); err != nil {
		t.Fatalf("insert live: %v", err)
	}
	if _, err := svc.Insert(ctx, models.AttachmentSpec{MessageID: 2}, strings.NewReader("dead")); err != nil {
		t.Fatalf("insert dead: %v", err)
	}

	removed, err := svc.TrimAbandoned(ctx, func(messageID int64) (bool, error) {
		return messageID == 1, nil
	})
	if err != nil {
		t.Fatalf("trim: %v", err)
	}
	if removed != 1 {
		t.Fatalf("expected 1 file removed, got %d", removed)
	}
	if n := countPartFiles(t, blobs); n != 1 {
		t.Fatalf("expected only the live file to remain, got %d", n)
	}
}

func TestNotificationsFire(t *testing.T) {
	var changed, deleted int
	var lastState models.TransferState
	sink := notify.Funcs{
		OnAttachmentsChanged:   func(int64) { changed++ },
		OnAttachmentDeleted:    func(models.AttachmentID) { deleted++ },
		OnTransferStateChanged: func(_ models.AttachmentID, state models.TransferState) { lastState = state },
	}
	svc, _, _ := testService(t, sink, nil)
	ctx := context.Background()

	id, err := svc.Insert(ctx, models.AttachmentSpec{MessageID: 1}, strings.NewReader("x"))
	if err != nil {
		t.Fatalf("insert: %v", err)
	}
	if changed != 1 {
		t.Fatalf("expected 1 changed event, got %d", changed)
	}

	if err := svc.SetTransferState(ctx, id, models.TransferStarted); err != nil {
		t.Fatalf("set state: %v", err)
	}
	if lastState != models.TransferStarted {
		t.Fatalf("expected started event, got %s", lastState)
	}

	if err := svc.Delete(ctx, id); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if deleted != 1 {
		t.Fatalf("expected 1 deleted event, got %d", deleted)
	}
}

func TestPreuploadLifecycleThroughService(t *testing.T) {
	svc, blobs, _ := testService(t, nil, nil)
	ctx := context.Background()

	id, err := svc.Insert(ctx, models.AttachmentSpec{MessageID: models.PreuploadMessageID}, strings.NewReader("early upload"))
	if err != nil {
		t.Fatalf("preupload insert: %v", err)
	}
	if err := svc.AssignToMessage(ctx, id, 77); err != nil {
		t.Fatalf("assign: %v", err)
	}
	if err := svc.DeleteAbandonedPreuploads(ctx); err != nil {
		t.Fatalf("reap: %v", err)
	}

	record, err := svc.Get(ctx, id)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if record == nil || record.MessageID != 77 {
		t.Fatalf("assigned preupload must survive: %+v", record)
	}
	if n := countPartFiles(t, blobs); n != 1 {
		t.Fatalf("assigned preupload's file must survive, got %d", n)
	}
}
