package contentstore

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"hash"
	"io"
)

// verifyingReader recomputes the sha256 digest of everything read and
// compares it against the expected hash once the stream is exhausted.
// A mismatch surfaces as ErrIntegrity instead of io.EOF, so a consumer
// that copies the full stream cannot miss corruption.
type verifyingReader struct {
	src      io.ReadCloser
	hasher   hash.Hash
	expected string
	verified bool
}

func newVerifyingReader(src io.ReadCloser, expected string) io.ReadCloser {
	return &verifyingReader{
		src:      src,
		hasher:   sha256.New(),
		expected: expected,
	}
}

func (v *verifyingReader) Read(p []byte) (int, error) {
	n, err := v.src.Read(p)
	if n > 0 {
		v.hasher.Write(p[:n])
	}
	if err == io.EOF {
		if verr := v.verify(); verr != nil {
			return n, verr
		}
	}
	return n, err
}

func (v *verifyingReader) Close() error {
	return v.src.Close()
}

func (v *verifyingReader) verify() error {
	if v.verified {
		return nil
	}
	v.verified = true
	actual := hex.EncodeToString(v.hasher.Sum(nil))
	if actual != v.expected {
		return fmt.Errorf("%w: stored %s, read back %s", ErrIntegrity, v.expected, actual)
	}
	return nil
}
