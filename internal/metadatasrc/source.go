// Package metadatasrc fetches sensor model metadata files from the local
// filesystem or S3 and parses them into keyword lists.
package metadatasrc

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3iface"

	"github.com/signalsfoundry/sargeom/kb"
)

// ErrNotFound is returned when the metadata file does not exist.
var ErrNotFound = errors.New("metadata not found")

// ErrUnsupportedScheme is returned for URIs no source handles.
var ErrUnsupportedScheme = errors.New("unsupported metadata uri")

const s3Scheme = "s3://"

// Source reads a metadata file and parses it as a keyword list.
type Source interface {
	Read(ctx context.Context, uri string) (*kb.Keywordlist, error)
}

// Local reads metadata files from disk.
type Local struct{}

func (Local) Read(ctx context.Context, uri string) (*kb.Keywordlist, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	path := strings.TrimPrefix(uri, "file://")
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, path)
		}
		return nil, err
	}
	defer f.Close()
	return parse(f, uri)
}

// S3 reads metadata objects addressed as s3://bucket/key.
type S3 struct {
	api s3iface.S3API
}

// NewS3 wraps an S3 client.
func NewS3(api s3iface.S3API) *S3 {
	return &S3{api: api}
}

// NewS3FromRegion opens an AWS session for region using the default
// credential chain.
func NewS3FromRegion(region string) (*S3, error) {
	sess, err := session.NewSession(&aws.Config{Region: aws.String(region)})
	if err != nil {
		return nil, fmt.Errorf("aws session: %w", err)
	}
	return NewS3(s3.New(sess)), nil
}

func (s *S3) Read(ctx context.Context, uri string) (*kb.Keywordlist, error) {
	bucket, key, err := SplitS3URI(uri)
	if err != nil {
		return nil, err
	}
	out, err := s.api.GetObjectWithContext(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var aerr awserr.Error
		if errors.As(err, &aerr) && (aerr.Code() == s3.ErrCodeNoSuchKey || aerr.Code() == s3.ErrCodeNoSuchBucket) {
			return nil, fmt.Errorf("%w: %s: %s", ErrNotFound, uri, aerr.Message())
		}
		return nil, fmt.Errorf("get %s: %w", uri, err)
	}
	defer out.Body.Close()
	return parse(out.Body, uri)
}

// SplitS3URI splits s3://bucket/key into its bucket and key.
func SplitS3URI(uri string) (bucket, key string, err error) {
	if !strings.HasPrefix(uri, s3Scheme) {
		return "", "", fmt.Errorf("%w: %q is not an s3 uri", ErrUnsupportedScheme, uri)
	}
	bucket, key, ok := strings.Cut(strings.TrimPrefix(uri, s3Scheme), "/")
	if !ok || bucket == "" || key == "" {
		return "", "", fmt.Errorf("%w: %q has no bucket or key", ErrUnsupportedScheme, uri)
	}
	return bucket, key, nil
}

// Router dispatches s3:// URIs to an S3 source and everything else to the
// local filesystem.
type Router struct {
	Local Source
	S3    Source
}

func (r Router) Read(ctx context.Context, uri string) (*kb.Keywordlist, error) {
	if strings.HasPrefix(uri, s3Scheme) {
		if r.S3 == nil {
			return nil, fmt.Errorf("%w: no s3 source configured for %s", ErrUnsupportedScheme, uri)
		}
		return r.S3.Read(ctx, uri)
	}
	if strings.Contains(uri, "://") && !strings.HasPrefix(uri, "file://") {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedScheme, uri)
	}
	local := r.Local
	if local == nil {
		local = Local{}
	}
	return local.Read(ctx, uri)
}

func parse(r io.Reader, uri string) (*kb.Keywordlist, error) {
	kwl, err := kb.Parse(r)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", uri, err)
	}
	return kwl, nil
}
