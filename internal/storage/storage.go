// Package storage is the Object Storage Adapter (spec.md §4.2): it talks
// to Supabase's S3-compatible bucket storage through aws-sdk-go's S3
// client, the way the teacher's clients package wraps an object-store
// driver behind download/upload/list/remove/sign verbs.
package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"regexp"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3manager"

	"github.com/autoclip/worker/internal/apierr"
	"github.com/autoclip/worker/internal/logx"
)

// streamUnsupportedPattern matches the class of errors the Supabase/S3
// SDK raises when it can't stream a request body (duplex-mode
// restrictions on some HTTP transports) — spec.md §4.2's trigger for
// falling back to a fully-buffered upload.
var streamUnsupportedPattern = regexp.MustCompile(`(?i)(duplex|stream|body|unsupported)`)

// streamPutFunc performs the streaming half of Upload; bufferedPutFunc
// performs the fallback. Both are swappable so tests can exercise the
// fallback decision without a live S3-compatible endpoint, mirroring the
// teacher's habit of keeping OS-driver access behind a narrow seam
// (clients.GetOSURL/UploadToOSURL) rather than a concrete struct.
type streamPutFunc func(ctx context.Context, bucket, key string, body io.Reader, contentType string) error
type bufferedPutFunc func(ctx context.Context, bucket, key string, body []byte, contentType string) error

type Adapter struct {
	s3  *s3.S3
	upl *s3manager.Uploader

	streamPut   streamPutFunc
	bufferedPut bufferedPutFunc
}

// New builds an Adapter pointed at the given S3-compatible endpoint
// (Supabase's storage API), mirroring how the teacher's object store
// client is constructed from a single base URL + credentials pair.
func New(endpoint, accessKeyID, secretAccessKey string) (*Adapter, error) {
	sess, err := session.NewSession(&aws.Config{
		Endpoint:         aws.String(endpoint),
		Region:           aws.String("us-east-1"),
		S3ForcePathStyle: aws.Bool(true),
		Credentials:      credentials.NewStaticCredentials(accessKeyID, secretAccessKey, ""),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to build storage session: %w", err)
	}
	a := &Adapter{
		s3:  s3.New(sess),
		upl: s3manager.NewUploader(sess),
	}
	a.streamPut = a.s3StreamPut
	a.bufferedPut = a.s3BufferedPut
	return a, nil
}

func (a *Adapter) s3StreamPut(ctx context.Context, bucket, key string, body io.Reader, contentType string) error {
	_, err := a.upl.UploadWithContext(ctx, &s3manager.UploadInput{
		Bucket:      aws.String(bucket),
		Key:         aws.String(key),
		Body:        body,
		ContentType: aws.String(contentType),
	})
	return err
}

func (a *Adapter) s3BufferedPut(ctx context.Context, bucket, key string, body []byte, contentType string) error {
	_, err := a.s3.PutObjectWithContext(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(body),
		ContentType: aws.String(contentType),
	})
	return err
}

// Upload attempts a streaming PutObject first (upsert semantics); on an
// error that looks like a stream/duplex/body-unsupported failure it
// re-reads the whole file into memory and retries once as a buffered
// io.ReadSeeker. Any other error is propagated as-is (spec.md §4.2).
func (a *Adapter) Upload(ctx context.Context, bucket, key, localPath, contentType string) error {
	f, err := os.Open(localPath)
	if err != nil {
		return apierr.APIError{Msg: "failed to open artifact for upload", Status: 500, Kind: apierr.StorageFailure, Err: err}
	}
	defer f.Close()

	err = a.streamPut(ctx, bucket, key, f, contentType)
	if err == nil {
		return nil
	}
	if !streamUnsupportedPattern.MatchString(err.Error()) {
		return apierr.APIError{Msg: "failed to upload artifact", Status: 500, Kind: apierr.StorageFailure, Err: err}
	}

	logx.Log("", "streaming upload failed, falling back to buffered upload", "bucket", bucket, "key", key, "err", err.Error())

	buf, readErr := os.ReadFile(localPath)
	if readErr != nil {
		return apierr.APIError{Msg: "failed to buffer artifact for fallback upload", Status: 500, Kind: apierr.StorageFailure, Err: readErr}
	}

	if err := a.bufferedPut(ctx, bucket, key, buf, contentType); err != nil {
		return apierr.APIError{Msg: "failed to upload artifact after buffered fallback", Status: 500, Kind: apierr.StorageFailure, Err: err}
	}
	return nil
}

// Download writes bucket/key to localPath.
func (a *Adapter) Download(ctx context.Context, bucket, key, localPath string) error {
	out, err := a.s3.GetObjectWithContext(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if aerr, ok := err.(awserr.Error); ok && aerr.Code() == s3.ErrCodeNoSuchKey {
			return apierr.NewObjectNotFoundError(fmt.Sprintf("%s/%s", bucket, key), err)
		}
		return apierr.APIError{Msg: "failed to download artifact", Status: 500, Kind: apierr.StorageFailure, Err: err}
	}
	defer out.Body.Close()

	f, err := os.Create(localPath)
	if err != nil {
		return apierr.APIError{Msg: "failed to create local scratch file", Status: 500, Kind: apierr.StorageFailure, Err: err}
	}
	defer f.Close()

	if _, err := io.Copy(f, out.Body); err != nil {
		return apierr.APIError{Msg: "failed to write downloaded artifact", Status: 500, Kind: apierr.StorageFailure, Err: err}
	}
	return nil
}

// Sign issues a time-limited signed GET URL for bucket/key.
func (a *Adapter) Sign(bucket, key string, ttl time.Duration) (string, error) {
	req, _ := a.s3.GetObjectRequest(&s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	url, err := req.Presign(ttl)
	if err != nil {
		return "", apierr.APIError{Msg: "failed to sign artifact url", Status: 500, Kind: apierr.StorageFailure, Err: err}
	}
	return url, nil
}

// List returns up to limit keys under prefix, used by session cleanup.
func (a *Adapter) List(ctx context.Context, bucket, prefix string, limit int64) ([]string, error) {
	out, err := a.s3.ListObjectsV2WithContext(ctx, &s3.ListObjectsV2Input{
		Bucket:  aws.String(bucket),
		Prefix:  aws.String(prefix),
		MaxKeys: aws.Int64(limit),
	})
	if err != nil {
		return nil, apierr.APIError{Msg: "failed to list artifacts", Status: 500, Kind: apierr.StorageFailure, Err: err}
	}
	keys := make([]string, 0, len(out.Contents))
	for _, obj := range out.Contents {
		keys = append(keys, aws.StringValue(obj.Key))
	}
	return keys, nil
}

// Remove deletes the given keys from bucket, used by session cleanup.
func (a *Adapter) Remove(ctx context.Context, bucket string, keys []string) error {
	if len(keys) == 0 {
		return nil
	}
	objs := make([]*s3.ObjectIdentifier, 0, len(keys))
	for _, k := range keys {
		objs = append(objs, &s3.ObjectIdentifier{Key: aws.String(k)})
	}
	_, err := a.s3.DeleteObjectsWithContext(ctx, &s3.DeleteObjectsInput{
		Bucket: aws.String(bucket),
		Delete: &s3.Delete{Objects: objs},
	})
	if err != nil {
		return apierr.APIError{Msg: "failed to remove artifacts", Status: 500, Kind: apierr.StorageFailure, Err: err}
	}
	return nil
}
