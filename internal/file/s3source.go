package file

import (
	"context"
	"fmt"
	"io"
	"path"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// S3ObjectAPI is the subset of the S3 client S3Source needs.
type S3ObjectAPI interface {
	HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// S3Source reads an S3 object with ranged GETs, one per slice.
type S3Source struct {
	Client S3ObjectAPI
	Bucket string
	Key    string
}

func (s S3Source) Open(ctx context.Context) (Content, error) {
	head, err := s.Client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.Bucket),
		Key:    aws.String(s.Key),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to head s3://%s/%s: %w", s.Bucket, s.Key, err)
	}
	return &s3Content{
		source:   s,
		size:     aws.ToInt64(head.ContentLength),
		mimeType: aws.ToString(head.ContentType),
	}, nil
}

type s3Content struct {
	source   S3Source
	size     int64
	mimeType string
}

func (c *s3Content) Name() string     { return path.Base(c.source.Key) }
func (c *s3Content) MimeType() string { return c.mimeType }
func (c *s3Content) Size() int64      { return c.size }
func (c *s3Content) Close() error     { return nil }

func (c *s3Content) ReadAt(ctx context.Context, p []byte, off int64) (int, error) {
	if off >= c.size {
		return 0, io.EOF
	}
	end := off + int64(len(p)) - 1
	if end >= c.size {
		end = c.size - 1
	}

	out, err := c.source.Client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(c.source.Bucket),
		Key:    aws.String(c.source.Key),
		Range:  aws.String(fmt.Sprintf("bytes=%d-%d", off, end)),
	})
	if err != nil {
		return 0, fmt.Errorf("failed to read s3://%s/%s: %w", c.source.Bucket, c.source.Key, err)
	}
	defer out.Body.Close()

	n, err := io.ReadFull(out.Body, p[:end-off+1])
	if err != nil {
		return n, err
	}
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}
