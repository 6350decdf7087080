// Copyright 2025 Kadir Pekel
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.


// Package s3artifact stores artifacts in an S3-compatible bucket.
//
// Objects are laid out as
//
//	{prefix}/{app}/{user}/{session}/{filename}/{version}
//	{prefix}/{app}/{user}/user/{filename}/{version}
//
// where the second form holds user-scoped filenames. Content type and
// custom metadata travel as object metadata.
package s3artifact

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"google.golang.org/genai"

	"github.com/kadirpekel/agentkit/pkg/artifact"
)

const (
	metaKind           = "artifact-kind"
	metaCreateTime     = "artifact-create-time"
	metaCustomMetadata = "artifact-custom-metadata"

	kindText = "text"
	kindBlob = "blob"

	userSegment = "user"
)

// Client is the subset of the S3 API the service needs.
type Client interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, opts ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, in *s3.GetObjectInput, opts ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	HeadObject(ctx context.Context, in *s3.HeadObjectInput, opts ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	DeleteObject(ctx context.Context, in *s3.DeleteObjectInput, opts ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
	ListObjectsV2(ctx context.Context, in *s3.ListObjectsV2Input, opts ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
}

// Config configures an S3-backed artifact service.
type Config struct {
	Bucket          string
	Region          string
	Endpoint        string
	Prefix          string
	AccessKeyID     string
	SecretAccessKey string
	UsePathStyle    bool
}

// Service implements artifact.Service on top of S3.
type Service struct {
	client Client
	bucket string
	prefix string
	locks  artifact.KeyLocker
	now    func() time.Time
}

// Option configures a Service.
type Option func(*Service)

// WithClock overrides the clock used for creation timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// New creates a service using the default AWS credential chain, optionally
// overridden by static credentials from cfg.
func New(ctx context.Context, cfg Config, opts ...Option) (*Service, error) {
	bucket := strings.TrimSpace(cfg.Bucket)
	if bucket == "" {
		return nil, fmt.Errorf("s3 bucket is required")
	}
	region := strings.TrimSpace(cfg.Region)
	if region == "" {
		region = "us-east-1"
	}

	loadOptions := []func(*config.LoadOptions) error{
		config.WithRegion(region),
	}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		loadOptions = append(loadOptions, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, loadOptions...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	endpoint := strings.TrimSpace(cfg.Endpoint)
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
		}
		o.UsePathStyle = cfg.UsePathStyle
	})
	return NewWithClient(client, bucket, cfg.Prefix, opts...), nil
}

// NewWithClient creates a service over an existing client.
func NewWithClient(client Client, bucket, prefix string, opts ...Option) *Service {
	s := &Service{
		client: client,
		bucket: bucket,
		prefix: strings.Trim(prefix, "/"),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Service) scopeDir(appName, userID, scope string) string {
	return path.Join(s.prefix, appName, userID, scope) + "/"
}

func (s *Service) artifactDir(key artifact.Key) string {
	scope := key.SessionID
	if key.UserScoped() {
		scope = userSegment
	}
	return s.scopeDir(key.AppName, key.UserID, scope) + key.Filename + "/"
}

func (s *Service) objectKey(key artifact.Key, version int) string {
	return s.artifactDir(key) + strconv.Itoa(version)
}

func (s *Service) listAll(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	p := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(prefix),
	})
	for p.HasMorePages() {
		page, err := p.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("s3 list objects: %w", err)
		}
		for _, obj := range page.Contents {
			keys = append(keys, aws.ToString(obj.Key))
		}
	}
	return keys, nil
}

func (s *Service) versions(ctx context.Context, key artifact.Key) ([]int, error) {
	dir := s.artifactDir(key)
	keys, err := s.listAll(ctx, dir)
	if err != nil {
		return nil, err
	}
	out := []int{}
	for _, k := range keys {
		rest := strings.TrimPrefix(k, dir)
		if strings.Contains(rest, "/") {
			continue
		}
		v, err := strconv.Atoi(rest)
		if err != nil || v < 0 {
			continue
		}
		out = append(out, v)
	}
	sort.Ints(out)
	return out, nil
}

func (s *Service) resolve(ctx context.Context, key artifact.Key, version int) (int, bool, error) {
	versions, err := s.versions(ctx, key)
	if err != nil {
		return 0, false, err
	}
	if len(versions) == 0 {
		return 0, false, nil
	}
	if version == artifact.Latest {
		return versions[len(versions)-1], true, nil
	}
	i := sort.SearchInts(versions, version)
	if i < len(versions) && versions[i] == version {
		return version, true, nil
	}
	return 0, false, nil
}

// Save uploads a new version.
func (s *Service) Save(ctx context.Context, key artifact.Key, part *genai.Part, customMetadata map[string]any) (int, error) {
	if err := key.Validate(); err != nil {
		return 0, err
	}
	mime, err := artifact.MIMEType(part)
	if err != nil {
		return 0, err
	}

	unlock := s.locks.Lock(key)
	defer unlock()

	versions, err := s.versions(ctx, key)
	if err != nil {
		return 0, err
	}
	version := 0
	if n := len(versions); n > 0 {
		version = versions[n-1] + 1
	}

	meta := map[string]string{
		metaCreateTime: strconv.FormatFloat(epochSeconds(s.now()), 'f', -1, 64),
	}
	var body []byte
	if part.InlineData != nil {
		meta[metaKind] = kindBlob
		body = part.InlineData.Data
	} else {
		meta[metaKind] = kindText
		body = []byte(part.Text)
	}
	if len(customMetadata) > 0 {
		encoded, err := json.Marshal(customMetadata)
		if err != nil {
			return 0, fmt.Errorf("encode custom metadata: %w", err)
		}
		meta[metaCustomMetadata] = string(encoded)
	}

	objKey := s.objectKey(key, version)
	if _, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(objKey),
		Body:        bytes.NewReader(body),
		ContentType: aws.String(mime),
		Metadata:    meta,
	}); err != nil {
		return 0, fmt.Errorf("s3 put object: %w", err)
	}

	slog.Debug("Artifact saved", "bucket", s.bucket, "key", objKey, "version", version)
	return version, nil
}

// Load downloads a version, or returns nil when it does not exist.
func (s *Service) Load(ctx context.Context, key artifact.Key, version int) (*genai.Part, error) {
	if err := key.Validate(); err != nil {
		return nil, err
	}
	v, ok, err := s.resolve(ctx, key, version)
	if err != nil || !ok {
		return nil, err
	}

	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.objectKey(key, v)),
	})
	if isNotFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("s3 get object: %w", err)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("read artifact body: %w", err)
	}
	if metadataValue(out.Metadata, metaKind) == kindText {
		return &genai.Part{Text: string(data)}, nil
	}
	return &genai.Part{InlineData: &genai.Blob{Data: data, MIMEType: aws.ToString(out.ContentType)}}, nil
}

// Delete removes every version of key.
func (s *Service) Delete(ctx context.Context, key artifact.Key) error {
	if err := key.Validate(); err != nil {
		return err
	}
	unlock := s.locks.Lock(key)
	defer unlock()

	versions, err := s.versions(ctx, key)
	if err != nil {
		return err
	}
	for _, v := range versions {
		if _, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
			Bucket: aws.String(s.bucket),
			Key:    aws.String(s.objectKey(key, v)),
		}); err != nil && !isNotFound(err) {
			return fmt.Errorf("s3 delete object: %w", err)
		}
	}
	return nil
}

// ListKeys returns the sorted session-scoped filenames followed by the
// sorted user-scoped filenames.
func (s *Service) ListKeys(ctx context.Context, appName, userID, sessionID string) ([]string, error) {
	keys := []string{}
	for _, scope := range []string{sessionID, userSegment} {
		if scope == "" {
			continue
		}
		dir := s.scopeDir(appName, userID, scope)
		objects, err := s.listAll(ctx, dir)
		if err != nil {
			return nil, err
		}
		seen := map[string]bool{}
		var names []string
		for _, obj := range objects {
			rest := strings.TrimPrefix(obj, dir)
			i := strings.LastIndex(rest, "/")
			if i <= 0 {
				continue
			}
			name := rest[:i]
			if scope == userSegment && !artifact.IsUserScoped(name) {
				continue
			}
			if !seen[name] {
				seen[name] = true
				names = append(names, name)
			}
		}
		sort.Strings(names)
		keys = append(keys, names...)
	}
	return keys, nil
}

// ListVersions returns the stored version numbers in ascending order.
func (s *Service) ListVersions(ctx context.Context, key artifact.Key) ([]int, error) {
	if err := key.Validate(); err != nil {
		return nil, err
	}
	return s.versions(ctx, key)
}

// ListArtifactVersions describes every stored version.
func (s *Service) ListArtifactVersions(ctx context.Context, key artifact.Key) ([]*artifact.ArtifactVersion, error) {
	if err := key.Validate(); err != nil {
		return nil, err
	}
	versions, err := s.versions(ctx, key)
	if err != nil {
		return nil, err
	}
	out := make([]*artifact.ArtifactVersion, 0, len(versions))
	for _, v := range versions {
		info, err := s.head(ctx, key, v)
		if err != nil {
			return nil, err
		}
		if info != nil {
			out = append(out, info)
		}
	}
	return out, nil
}

// GetArtifactVersion describes one version, or returns nil when it does not
// exist.
func (s *Service) GetArtifactVersion(ctx context.Context, key artifact.Key, version int) (*artifact.ArtifactVersion, error) {
	if err := key.Validate(); err != nil {
		return nil, err
	}
	v, ok, err := s.resolve(ctx, key, version)
	if err != nil || !ok {
		return nil, err
	}
	return s.head(ctx, key, v)
}

func (s *Service) head(ctx context.Context, key artifact.Key, version int) (*artifact.ArtifactVersion, error) {
	out, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.objectKey(key, version)),
	})
	if isNotFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("s3 head object: %w", err)
	}

	info := &artifact.ArtifactVersion{
		Version:      version,
		CanonicalURI: artifact.CanonicalURI("s3", key, version),
		MIMEType:     aws.ToString(out.ContentType),
	}
	if raw := metadataValue(out.Metadata, metaCreateTime); raw != "" {
		if f, err := strconv.ParseFloat(raw, 64); err == nil {
			info.CreateTime = f
		}
	}
	if raw := metadataValue(out.Metadata, metaCustomMetadata); raw != "" {
		if err := json.Unmarshal([]byte(raw), &info.CustomMetadata); err != nil {
			slog.Warn("Ignoring malformed artifact metadata", "key", s.objectKey(key, version), "error", err)
		}
	}
	return info, nil
}

// metadataValue reads a metadata entry regardless of the casing the server
// returned it in.
func metadataValue(meta map[string]string, name string) string {
	if v, ok := meta[name]; ok {
		return v
	}
	for k, v := range meta {
		if strings.EqualFold(k, name) {
			return v
		}
	}
	return ""
}

func epochSeconds(t time.Time) float64 {
	return float64(t.Unix()) + float64(t.Nanosecond())/1e9
}

func isNotFound(err error) bool {
	if err == nil {
		return false
	}
	var notFound *types.NotFound
	var noSuchKey *types.NoSuchKey
	if errors.As(err, &notFound) || errors.As(err, &noSuchKey) {
		return true
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		code := apiErr.ErrorCode()
		return strings.EqualFold(code, "NotFound") || strings.EqualFold(code, "NoSuchKey")
	}
	return false
}

var _ artifact.Service = (*Service)(nil)
