package main

import (
	"context"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/stretchr/testify/require"

	"github.com/stefando/resumableupload/internal/cache"
	"github.com/stefando/resumableupload/internal/config"
	"github.com/stefando/resumableupload/internal/file"
)

func TestSourceFor(t *testing.T) {
	req := require.New(t)
	noS3 := func() (file.S3ObjectAPI, error) { return nil, errors.New("no aws") }

	src, err := sourceFor("data:text/plain;base64,aGk=", noS3)
	req.NoError(err)
	req.IsType(file.DataURLSource{}, src)

	src, err = sourceFor("./movie.mp4", noS3)
	req.NoError(err)
	req.Equal(file.PathSource{Path: "./movie.mp4"}, src)

	_, err = sourceFor("s3://bucket-only", noS3)
	req.Error(err)

	_, err = sourceFor("s3://media/a/b.bin", noS3)
	req.EqualError(err, "no aws")

	src, err = sourceFor("s3://media/a/b.bin", func() (file.S3ObjectAPI, error) { return nil, nil })
	req.NoError(err)
	req.Equal(file.S3Source{Bucket: "media", Key: "a/b.bin"}, src)
}

func TestOpenStore(t *testing.T) {
	noAWS := func() (aws.Config, error) { return aws.Config{}, errors.New("no aws") }
	tests := []struct {
		backend string
		check   func(*require.Assertions, cache.Store, error)
	}{
		{config.CacheNone, func(req *require.Assertions, s cache.Store, err error) {
			req.NoError(err)
			req.Nil(s)
		}},
		{config.CacheMemory, func(req *require.Assertions, s cache.Store, err error) {
			req.NoError(err)
			req.IsType(&cache.MemoryStore{}, s)
		}},
		{config.CacheBadger, func(req *require.Assertions, s cache.Store, err error) {
			req.NoError(err)
			req.IsType(&cache.BadgerStore{}, s)
		}},
		{config.CacheS3, func(req *require.Assertions, _ cache.Store, err error) {
			req.EqualError(err, "no aws")
		}},
		{"floppy", func(req *require.Assertions, _ cache.Store, err error) {
			req.Error(err)
		}},
	}
	for _, tt := range tests {
		t.Run(tt.backend, func(t *testing.T) {
			a := &app{cfg: config.Config{CacheBackend: tt.backend, BadgerPath: t.TempDir()}}
			store, closeStore, err := a.openStore(context.Background(), noAWS)
			defer closeStore()
			tt.check(require.New(t), store, err)
		})
	}
}
