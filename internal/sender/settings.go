package sender

import (
	"errors"

	"github.com/go-playground/validator/v10"

	"github.com/stefando/resumableupload/internal/errs"
	"github.com/stefando/resumableupload/internal/file"
)

// Naming modes for GiveFileName.
const (
	HashContent     = "contenthash"
	HashFingerprint = "hash"
	HashRandom      = "random"
)

// Settings configure a Sender. MaxTasks 0 means unlimited.
type Settings struct {
	HashType            string `validate:"oneof=contenthash hash random"`
	Cache               bool
	Override            bool
	MaxConnect          int   `validate:"gt=0"`
	BlockSize           int64 `validate:"gt=0,gtefield=ChunkSize"`
	ChunkSize           int64 `validate:"gt=0"`
	MaxFileSize         int64 `validate:"gte=0"`
	MaxTasks            int   `validate:"gte=0"`
	MultipartUploadSize int64 `validate:"gte=0"`
}

// DefaultSettings returns the stock configuration.
func DefaultSettings() Settings {
	return Settings{
		HashType:            HashContent,
		Cache:               true,
		Override:            false,
		MaxConnect:          4,
		BlockSize:           4 * file.MiB,
		ChunkSize:           1 * file.MiB,
		MaxFileSize:         1 * file.GiB,
		MaxTasks:            2000,
		MultipartUploadSize: 4 * file.MiB,
	}
}

// Normalize applies Override, which disables the cache and forces random
// names so every upload lands as a new object.
func (s Settings) Normalize() Settings {
	if s.Override {
		s.Cache = false
		s.HashType = HashRandom
	}
	return s
}

var validate = validator.New()

// CheckOptions validates settings. It never panics; nil means valid.
func CheckOptions(s Settings) error {
	err := validate.Struct(s)
	if err == nil {
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) || len(fieldErrs) == 0 {
		return errs.Validation("settings", "%v", err)
	}

	first := fieldErrs[0]
	switch first.Tag() {
	case "gtefield":
		return errs.Validation(first.Field(), "chunk size must not exceed block size")
	case "gt":
		return errs.Validation(first.Field(), "must be a positive integer, got %v", first.Value())
	case "gte":
		return errs.Validation(first.Field(), "must not be negative, got %v", first.Value())
	case "oneof":
		return errs.Validation(first.Field(), "must be one of %s, got %q", first.Param(), first.Value())
	}
	return errs.Validation(first.Field(), "failed %s validation", first.Tag())
}
