package uploader

import (
	"crypto/md5"
	"encoding/hex"
	"hash"
	"io"
	"strings"
)

// md5Reader wraps an io.Reader and computes an MD5 digest while reading.
// This lets part integrity be checked in the same pass as the upload.
type md5Reader struct {
	reader io.Reader
	md5    hash.Hash
	size   int64
}

// newMD5Reader creates a reader that digests everything read through it.
func newMD5Reader(r io.Reader) *md5Reader {
	return &md5Reader{
		reader: r,
		md5:    md5.New(),
	}
}

// Read implements io.Reader and updates the digest.
func (h *md5Reader) Read(p []byte) (n int, err error) {
	n, err = h.reader.Read(p)
	if n > 0 {
		h.md5.Write(p[:n])
		h.size += int64(n)
	}
	return n, err
}

// Sum returns the hex-encoded MD5 of everything read so far.
func (h *md5Reader) Sum() string {
	return hex.EncodeToString(h.md5.Sum(nil))
}

// Size returns the total number of bytes read.
func (h *md5Reader) Size() int64 {
	return h.size
}

// etagIsPlainMD5 reports whether an S3 ETag carries a plain MD5 digest.
// Multipart-assembled ETags ("...-N") and SSE-KMS objects do not, so they
// cannot be verified against a local digest.
func etagIsPlainMD5(etag string) bool {
	s := strings.Trim(etag, `"`)
	if len(s) != 32 {
		return false
	}
	for _, c := range s {
		if !((c >= '0' && c <= '9') || (c >= 'a' && c <= 'f') || (c >= 'A' && c <= 'F')) {
			return false
		}
	}
	return true
}

// etagMatchesMD5 compares an ETag against a hex MD5 digest.
func etagMatchesMD5(etag, md5Hex string) bool {
	return strings.EqualFold(strings.Trim(etag, `"`), md5Hex)
}
