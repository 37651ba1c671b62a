package blob

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsCfg "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/codehive-io/codehive/internal/config"
)

// S3Deps archives ingested project trees as JSON snapshots. The archive is a
// durability layer on top of the primary Postgres copy; ingestion succeeds
// even when the archive upload fails.
type S3Deps struct {
	Client   *s3.Client
	Uploader *manager.Uploader
	Bucket   string
	SSE      *s3types.ServerSideEncryption
}

func NewS3(ctx context.Context, cfg *config.Config) (*S3Deps, error) {
	loadOpts := []func(*awsCfg.LoadOptions) error{
		awsCfg.WithRegion(cfg.S3.Region),
	}
	if cfg.S3.AccessKey != "" && cfg.S3.SecretKey != "" {
		loadOpts = append(loadOpts, awsCfg.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.S3.AccessKey, cfg.S3.SecretKey, ""),
		))
	}

	acfg, err := awsCfg.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, err
	}

	s3Opts := func(o *s3.Options) {
		if ep := strings.TrimSpace(cfg.S3.Endpoint); ep != "" {
			if !strings.HasPrefix(ep, "http://") && !strings.HasPrefix(ep, "https://") {
				ep = "https://" + ep
			}
			if u, uerr := url.Parse(ep); uerr == nil {
				o.BaseEndpoint = aws.String(u.String())
			}
		}
		o.UsePathStyle = cfg.S3.UsePathStyle
	}

	client := s3.NewFromConfig(acfg, s3Opts)

	var sse *s3types.ServerSideEncryption
	if cfg.S3.SSE != "" {
		v := s3types.ServerSideEncryption(cfg.S3.SSE)
		sse = &v
	}

	return &S3Deps{
		Client:   client,
		Uploader: manager.NewUploader(client),
		Bucket:   cfg.S3.Bucket,
		SSE:      sse,
	}, nil
}

type SnapshotMeta struct {
	Bucket string
	Key    string
	ETag   string
	SHA256 string
	SizeB  int64
}

// UploadTreeSnapshot serializes a project's materialized file tree and stores
// it under snapshots/<email>/<project>/<date>/<sha256>.json.
func (u *S3Deps) UploadTreeSnapshot(ctx context.Context, email, projectName string, tree any) (*SnapshotMeta, error) {
	data, err := json.Marshal(tree)
	if err != nil {
		return nil, fmt.Errorf("marshal snapshot: %w", err)
	}

	sum := sha256.Sum256(data)
	sumHex := hex.EncodeToString(sum[:])

	datePrefix := time.Now().UTC().Format("2006/01/02")
	key := fmt.Sprintf("snapshots/%s/%s/%s/%s.json", email, projectName, datePrefix, sumHex)

	input := &s3.PutObjectInput{
		Bucket:      aws.String(u.Bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/json"),
		Metadata: map[string]string{
			"sha256":  sumHex,
			"owner":   email,
			"project": projectName,
		},
	}
	if u.SSE != nil {
		input.ServerSideEncryption = *u.SSE
	}

	out, err := u.Uploader.Upload(ctx, input)
	if err != nil {
		return nil, err
	}

	meta := &SnapshotMeta{
		Bucket: u.Bucket,
		Key:    key,
		SHA256: sumHex,
		SizeB:  int64(len(data)),
	}
	if out.ETag != nil {
		meta.ETag = *out.ETag
	}
	return meta, nil
}

// DownloadTreeSnapshot restores an archived tree into target.
func (u *S3Deps) DownloadTreeSnapshot(ctx context.Context, key string, target any) error {
	result, err := u.Client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: &u.Bucket,
		Key:    &key,
	})
	if err != nil {
		return fmt.Errorf("get snapshot %s: %w", key, err)
	}
	defer result.Body.Close()

	var buf bytes.Buffer
	if _, err := buf.ReadFrom(result.Body); err != nil {
		return fmt.Errorf("read snapshot body: %w", err)
	}
	if err := json.Unmarshal(buf.Bytes(), target); err != nil {
		return fmt.Errorf("unmarshal snapshot: %w", err)
	}
	return nil
}
