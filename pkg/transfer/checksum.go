package transfer

import (
	"context"
	"crypto/md5"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/hex"
	"errors"
	"hash"
	"io"

	"github.com/spf13/afero"
	"github.com/warpdl/netshift/pkg/transport"
)

// ChecksumAlgorithm names a supported digest algorithm for the opt-in
// post-transfer verification hook.
type ChecksumAlgorithm string

const (
	ChecksumMD5    ChecksumAlgorithm = "md5"
	ChecksumSHA256 ChecksumAlgorithm = "sha256"
	ChecksumSHA512 ChecksumAlgorithm = "sha512"
)

// ExpectedChecksum is an opt-in verification hook on a completed
// transfer. Cryptographic verification of bodies is off by default;
// the hook stays unset unless a caller explicitly asks for it.
type ExpectedChecksum struct {
	Algorithm ChecksumAlgorithm
	Hex       string
}

// ErrChecksumMismatch is returned by VerifyFile when the computed digest
// does not match the expected value.
var ErrChecksumMismatch = errors.New("transfer: checksum mismatch")

func newHasher(algo ChecksumAlgorithm) (hash.Hash, error) {
	switch algo {
	case ChecksumMD5:
		return md5.New(), nil
	case ChecksumSHA256:
		return sha256.New(), nil
	case ChecksumSHA512:
		return sha512.New(), nil
	default:
		return nil, errors.New("transfer: unsupported checksum algorithm " + string(algo))
	}
}

// VerifyFile hashes dst with the expected algorithm and compares against
// the expected hex digest. It never mutates dst and never alters a
// Record; callers wire it in only when they set an ExpectedChecksum.
func VerifyFile(fs afero.Fs, dst string, expected ExpectedChecksum) error {
	h, err := newHasher(expected.Algorithm)
	if err != nil {
		return err
	}
	f, err := fs.Open(dst)
	if err != nil {
		return err
	}
	defer f.Close()
	if _, err := io.Copy(h, f); err != nil {
		return err
	}
	if hex.EncodeToString(h.Sum(nil)) != expected.Hex {
		return ErrChecksumMismatch
	}
	return nil
}

// TransferChecked wraps Transfer with an opt-in post-transfer checksum
// verification. On a successful transfer with a non-zero Algorithm, it
// verifies dst and returns ErrChecksumMismatch (with the Record intact)
// if the digest doesn't match. Passing a zero-value ExpectedChecksum
// skips verification entirely, matching plain Transfer.
func TransferChecked(ctx context.Context, tr transport.Transport, fs afero.Fs, url, dst string, cfg RetryConfig, expected ExpectedChecksum) (Record, error) {
	rec, err := Transfer(ctx, tr, fs, url, dst, cfg)
	if err != nil || expected.Algorithm == "" {
		return rec, err
	}
	if verifyErr := VerifyFile(fs, dst, expected); verifyErr != nil {
		return rec, verifyErr
	}
	return rec, nil
}
