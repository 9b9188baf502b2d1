package blobdir

import (
	"crypto/aes"
	"crypto/cipher"
	"encoding/binary"
	"io"
	"os"
)

// randomKeyLength is the size of modern per-file key material. Records with
// key material of any other length decrypt through the legacy path.
const randomKeyLength = 32

// ctrStreamAt returns a CTR keystream positioned at the given block index.
// The IV base is all zeroes; CTR mode makes arbitrary offsets seekable by
// loading the block counter into the IV.
func ctrStreamAt(block cipher.Block, blockIndex uint64) cipher.Stream {
	iv := make([]byte, aes.BlockSize)
	binary.BigEndian.PutUint64(iv[8:], blockIndex)
	return cipher.NewCTR(block, iv)
}

// encryptingWriter encrypts plaintext as it is written through to the
// underlying file.
type encryptingWriter struct {
	f      *os.File
	stream cipher.Stream
	buf    []byte
}

func newEncryptingWriter(f *os.File, block cipher.Block) *encryptingWriter {
	return &encryptingWriter{f: f, stream: ctrStreamAt(block, 0)}
}

func (w *encryptingWriter) Write(p []byte) (int, error) {
	if cap(w.buf) < len(p) {
		w.buf = make([]byte, len(p))
	}
	ct := w.buf[:len(p)]
	w.stream.XORKeyStream(ct, p)
	return w.f.Write(ct)
}

func (w *encryptingWriter) Close() error {
	return w.f.Close()
}

// decryptingReader decrypts ciphertext as it is read from the underlying
// file.
type decryptingReader struct {
	f      *os.File
	stream cipher.Stream
}

func (r *decryptingReader) Read(p []byte) (int, error) {
	n, err := r.f.Read(p)
	if n > 0 {
		r.stream.XORKeyStream(p[:n], p[:n])
	}
	return n, err
}

func (r *decryptingReader) Close() error {
	return r.f.Close()
}

// openDecryptingReader positions a plaintext reader at offset. Modern files
// seek by loading the CTR counter; legacy files have to decrypt from the
// start and discard.
func openDecryptingReader(f *os.File, block cipher.Block, modern bool, offset int64) (io.ReadCloser, error) {
	if !modern {
		reader := &decryptingReader{f: f, stream: ctrStreamAt(block, 0)}
		if offset > 0 {
			if _, err := io.CopyN(io.Discard, reader, offset); err != nil {
				_ = f.Close()
				return nil, err
			}
		}
		return reader, nil
	}

	blockIndex := uint64(offset) / aes.BlockSize
	discard := offset % aes.BlockSize

	if _, err := f.Seek(int64(blockIndex)*aes.BlockSize, io.SeekStart); err != nil {
		_ = f.Close()
		return nil, err
	}

	reader := &decryptingReader{f: f, stream: ctrStreamAt(block, blockIndex)}
	if discard > 0 {
		if _, err := io.CopyN(io.Discard, reader, discard); err != nil {
			_ = f.Close()
			return nil, err
		}
	}
	return reader, nil
}

// MediaSource is a random-access view over one decrypted part file, suitable
// for streaming playback without decrypting the whole blob into memory.
type MediaSource struct {
	f      *os.File
	block  cipher.Block
	length int64
}

// Size returns the plaintext length.
func (m *MediaSource) Size() int64 {
	return m.length
}

// ReadAt implements io.ReaderAt over the plaintext.
func (m *MediaSource) ReadAt(p []byte, off int64) (int, error) {
	if off < 0 {
		return 0, os.ErrInvalid
	}
	if off >= m.length {
		return 0, io.EOF
	}
	if max := m.length - off; int64(len(p)) > max {
		p = p[:max]
	}

	blockIndex := uint64(off) / aes.BlockSize
	aligned := int64(blockIndex) * aes.BlockSize
	skip := int(off - aligned)

	ct := make([]byte, skip+len(p))
	n, err := m.f.ReadAt(ct, aligned)
	if n < skip {
		if err == nil {
			err = io.ErrUnexpectedEOF
		}
		return 0, err
	}

	ctrStreamAt(m.block, blockIndex).XORKeyStream(ct[:n], ct[:n])
	copied := copy(p, ct[skip:n])
	if err == io.EOF && copied == len(p) {
		err = nil
	}
	return copied, err
}

func (m *MediaSource) Close() error {
	return m.f.Close()
}
