// Package s3 forwards delivered units to an S3 compatible bucket.
package s3

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"

	"courier/internal/config"
	"courier/internal/dispatcher"
	"courier/internal/hasher"
	"courier/internal/telemetry"
)

// Client is a thin wrapper around the AWS SDK v2 S3 client.
type Client struct {
	api     *s3.Client
	presign *s3.PresignClient
	bucket  string
	prefix  string
}

// NewClient builds a Client from forward.s3. Without static keys the SDK's
// default credential chain applies.
func NewClient(ctx context.Context, cfg config.ForwardS3) (*Client, error) {
	if cfg.Bucket == "" {
		return nil, errors.New("forward.s3.bucket is required")
	}
	// The SDK can only apply AWS_CA_BUNDLE to its own buildable client, so
	// tracing wraps the resolved client afterwards.
	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.Region),
		awsconfig.WithHTTPClient(awshttp.NewBuildableClient().WithTimeout(5 * time.Minute)),
	}
	if cfg.AccessKey != "" && cfg.SecretKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, err
	}

	endpoint := cfg.Endpoint
	if endpoint != "" && !strings.HasPrefix(endpoint, "http://") && !strings.HasPrefix(endpoint, "https://") {
		endpoint = "https://" + endpoint
	}
	traced := tracedClient(awsCfg.HTTPClient)
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.HTTPClient = traced
		o.UsePathStyle = cfg.ForcePathStyle
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
		}
	})
	return &Client{
		api:     client,
		presign: s3.NewPresignClient(client),
		bucket:  cfg.Bucket,
		prefix:  cfg.Prefix,
	}, nil
}

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(req *http.Request) (*http.Response, error) { return f(req) }

// tracedClient routes SDK requests through the otelhttp transport while the
// SDK client keeps its TLS and timeout settings.
func tracedClient(next aws.HTTPClient) aws.HTTPClient {
	if next == nil {
		next = awshttp.NewBuildableClient()
	}
	return &http.Client{
		Transport: telemetry.Transport(roundTripFunc(next.Do)),
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
}

// Key returns the object key for a unit.
func (c *Client) Key(fileID int64, name string) string {
	return path.Join(c.prefix, strconv.FormatInt(fileID, 10), name)
}

// PutObject uploads data to key with checksum metadata. sha256 is hex.
func (c *Client) PutObject(ctx context.Context, key string, r io.Reader, size int64, sha256 string, meta map[string]string) error {
	if c == nil {
		return errors.New("nil client")
	}
	checksum, err := encodeSHA256(sha256)
	if err != nil {
		return err
	}
	metadata := map[string]string{"sha256": sha256}
	for k, v := range meta {
		metadata[k] = v
	}
	_, err = c.api.PutObject(ctx, &s3.PutObjectInput{
		Bucket:            &c.bucket,
		Key:               &key,
		Body:              r,
		ContentLength:     &size,
		ChecksumAlgorithm: s3types.ChecksumAlgorithmSha256,
		ChecksumSHA256:    &checksum,
		Metadata:          metadata,
	})
	return err
}

// PresignGet generates a presigned GET URL for key.
func (c *Client) PresignGet(ctx context.Context, key string, ttl time.Duration) (string, error) {
	if c == nil {
		return "", errors.New("nil client")
	}
	req, err := c.presign.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: &c.bucket,
		Key:    &key,
	}, func(opts *s3.PresignOptions) {
		opts.Expires = ttl
	})
	if err != nil {
		return "", err
	}
	return req.URL, nil
}

// Forward implements dispatcher.Forwarder.
func (c *Client) Forward(ctx context.Context, msg dispatcher.Message, _ dispatcher.Receipt) error {
	digest, _, err := hasher.SumReader(ctx, bytes.NewReader(msg.Data))
	if err != nil {
		return err
	}
	key := c.Key(msg.FileID, msg.Name)
	meta := map[string]string{
		"courier-file-id":        strconv.FormatInt(msg.FileID, 10),
		"courier-part":           fmt.Sprintf("%d/%d", msg.Index, msg.Count),
		"courier-archive-digest": msg.ArchiveDigest,
	}
	err = c.PutObject(ctx, key, bytes.NewReader(msg.Data), msg.Size(), digest.String(), meta)
	if err == nil {
		return nil
	}
	if unavailable(err) {
		return errors.Join(dispatcher.ErrForwardUnavailable, err)
	}
	return fmt.Errorf("put %s: %w", key, err)
}

// unavailable reports errors that mean the bucket cannot be reached at all.
func unavailable(err error) bool {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NoSuchBucket", "ServiceUnavailable", "SlowDown":
			return true
		}
		return false
	}
	var netErr interface{ Timeout() bool }
	return errors.As(err, &netErr)
}

func encodeSHA256(hexDigest string) (string, error) {
	if hexDigest == "" {
		return "", errors.New("sha256 digest required")
	}
	raw, err := hex.DecodeString(hexDigest)
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(raw), nil
}
