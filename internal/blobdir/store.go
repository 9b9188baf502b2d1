package blobdir

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

const (
	partFilePrefix = "part-"
	partFileSuffix = ".mms"
	secretFileName = "secret.key"

	partNameLength   = 12
	partNameAttempts = 20
	base36Alphabet   = "0123456789abcdefghijklmnopqrstuvwxyz"
)

// ErrStreamNotFound signals that a record points at a part file that does
// not exist on disk, whether never materialized or externally deleted.
var ErrStreamNotFound = errors.New("attachment stream not found")

// WriteResult describes one fully written encrypted part file.
type WriteResult struct {
	Path   string
	Length int64
	Random []byte
	Hash   string
}

// Store keeps encrypted part files in one flat private directory. Filenames
// are random and carry no relationship to content; the metadata rows are the
// only mapping from hash to file.
type Store struct {
	dir       string
	secret    Secret
	protector *TempFileProtector
}

// NewStore opens (creating if needed) the parts directory and its device
// secret.
func NewStore(dir string, protector *TempFileProtector) (*Store, error) {
	dir = strings.TrimSpace(dir)
	if dir == "" {
		return nil, fmt.Errorf("parts dir is required")
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(abs, 0o700); err != nil {
		return nil, err
	}
	secret, err := LoadOrCreateSecret(filepath.Join(abs, secretFileName))
	if err != nil {
		return nil, err
	}
	if protector == nil {
		protector = NewTempFileProtector(DefaultProtectionWindow, nil)
	}
	return &Store{dir: abs, secret: secret, protector: protector}, nil
}

// Dir returns the parts directory path.
func (s *Store) Dir() string {
	return s.dir
}

// Protector returns the temp-file protector guarding fresh writes.
func (s *Store) Protector() *TempFileProtector {
	return s.protector
}

// NewPartFile creates an empty, protected part file with a random name.
func (s *Store) NewPartFile() (string, error) {
	if s == nil {
		return "", fmt.Errorf("part store is not configured")
	}
	return s.protector.Protect(func() (string, error) {
		for i := 0; i < partNameAttempts; i++ {
			name, err := randomPartName()
			if err != nil {
				return "", err
			}
			path := filepath.Join(s.dir, name)
			f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
			if err != nil {
				if os.IsExist(err) {
					continue
				}
				return "", err
			}
			if err := f.Close(); err != nil {
				return "", err
			}
			return path, nil
		}
		return "", fmt.Errorf("unable to allocate part file name")
	})
}

// Write streams plaintext through a SHA-256 digest and a freshly keyed
// encryptor into a new protected part file. On failure the partial file is
// removed unless it is still protected, in which case cleanup is left to the
// garbage collector.
func (s *Store) Write(ctx context.Context, r io.Reader) (WriteResult, error) {
	var zero WriteResult
	if s == nil {
		return zero, fmt.Errorf("part store is not configured")
	}
	if r == nil {
		return zero, fmt.Errorf("reader is required")
	}
	if err := ctx.Err(); err != nil {
		return zero, err
	}

	path, err := s.NewPartFile()
	if err != nil {
		return zero, err
	}

	random, err := newRandomKey()
	if err != nil {
		s.discardPartial(path)
		return zero, err
	}
	block, err := s.secret.streamCipher(random)
	if err != nil {
		s.discardPartial(path)
		return zero, err
	}

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		s.discardPartial(path)
		return zero, err
	}

	digest := sha256.New()
	encryptor := newEncryptingWriter(f, block)

	length, err := io.Copy(io.MultiWriter(encryptor, digest), r)
	if err != nil {
		_ = f.Close()
		s.discardPartial(path)
		return zero, err
	}
	if err := f.Close(); err != nil {
		s.discardPartial(path)
		return zero, err
	}

	return WriteResult{
		Path:   path,
		Length: length,
		Random: random,
		Hash:   base64.StdEncoding.EncodeToString(digest.Sum(nil)),
	}, nil
}

// OpenStream returns the decrypted content of a part file starting at
// offset. Missing files yield ErrStreamNotFound.
func (s *Store) OpenStream(path string, random []byte, offset int64) (io.ReadCloser, error) {
	if s == nil {
		return nil, fmt.Errorf("part store is not configured")
	}
	if offset < 0 {
		return nil, fmt.Errorf("offset must be >= 0")
	}

	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrStreamNotFound, path)
		}
		return nil, err
	}

	block, err := s.secret.streamCipher(random)
	if err != nil {
		_ = f.Close()
		return nil, err
	}
	return openDecryptingReader(f, block, len(random) == randomKeyLength, offset)
}

// OpenMediaSource returns a random-access plaintext view over a
// modern-format part file.
func (s *Store) OpenMediaSource(path string, random []byte, length int64) (*MediaSource, error) {
	if s == nil {
		return nil, fmt.Errorf("part store is not configured")
	}
	if len(random) != randomKeyLength {
		return nil, fmt.Errorf("media source requires modern key material")
	}

	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrStreamNotFound, path)
		}
		return nil, err
	}

	block, err := s.secret.streamCipher(random)
	if err != nil {
		_ = f.Close()
		return nil, err
	}
	return &MediaSource{f: f, block: block, length: length}, nil
}

// Delete removes a part file. Missing files are ignored.
func (s *Store) Delete(path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// ListPartFiles returns the absolute paths of every part file in the
// directory. The device secret and unrelated files are excluded.
func (s *Store) ListPartFiles() ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, err
	}
	paths := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if !strings.HasPrefix(name, partFilePrefix) || !strings.HasSuffix(name, partFileSuffix) {
			continue
		}
		paths = append(paths, filepath.Join(s.dir, name))
	}
	return paths, nil
}

// RemoveAll deletes every part file in the directory. The device secret is
// preserved.
func (s *Store) RemoveAll() error {
	paths, err := s.ListPartFiles()
	if err != nil {
		return err
	}
	for _, path := range paths {
		if err := s.Delete(path); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) discardPartial(path string) {
	if s.protector.IsProtected(path) {
		return
	}
	_ = os.Remove(path)
}

func randomPartName() (string, error) {
	b := make([]byte, partNameLength)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	out := make([]byte, partNameLength)
	for i := range b {
		out[i] = base36Alphabet[int(b[i])%len(base36Alphabet)]
	}
	return partFilePrefix + string(out) + partFileSuffix, nil
}
