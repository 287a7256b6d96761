package sender

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"strconv"

	"github.com/google/uuid"

	"github.com/stefando/resumableupload/internal/errs"
	"github.com/stefando/resumableupload/internal/file"
)

// GiveFileName picks the remote object name. A non-empty name wins. With a
// file the name is derived per hashType and carries the file extension.
// Without either a time and random id based name is returned.
func (s *Sender) GiveFileName(ctx context.Context, name string, h *file.Handle, hashType string) (string, error) {
	if err := s.alive(); err != nil {
		return "", err
	}
	if name != "" {
		return name, nil
	}

	stamp := strconv.FormatInt(s.now().UnixMilli(), 10)
	if h == nil {
		return sha256Hex(stamp + uuid.NewString()), nil
	}

	switch hashType {
	case HashContent:
		contentHash, err := h.GenContentHash(ctx)
		if err != nil {
			return "", err
		}
		return contentHash + h.Extname(), nil
	case HashRandom:
		fingerprint, err := h.Hash()
		if err != nil {
			return "", err
		}
		return sha256Hex(fingerprint+stamp+uuid.NewString()) + h.Extname(), nil
	case HashFingerprint, "":
		fingerprint, err := h.Hash()
		if err != nil {
			return "", err
		}
		return fingerprint + h.Extname(), nil
	default:
		return "", errs.Validation("hashType", "unknown naming mode %q, want %s, %s or %s", hashType, HashContent, HashFingerprint, HashRandom)
	}
}

func sha256Hex(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}
