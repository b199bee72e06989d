package provider

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log"
	"strings"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"

	"github.com/yourusername/network-backup-manager/internal/models"
)

// S3Config is the aws-s3 provider schema. Endpoint selects S3-compatible
// storage (MinIO, Spaces, Wasabi).
type S3Config struct {
	Bucket       string `json:"bucket"`
	Region       string `json:"region"`
	AccessKey    string `json:"access_key"`
	SecretKey    string `json:"secret_key"`
	Endpoint     string `json:"endpoint,omitempty"`
	Prefix       string `json:"prefix,omitempty"`
	StorageClass string `json:"storage_class,omitempty"`
}

// Validate checks the config.
func (c *S3Config) Validate() error {
	switch {
	case strings.TrimSpace(c.Bucket) == "":
		return fmt.Errorf("bucket is required")
	case strings.TrimSpace(c.Region) == "":
		return fmt.Errorf("region is required")
	case c.AccessKey == "" || c.SecretKey == "":
		return fmt.Errorf("access_key and secret_key are required")
	}
	return nil
}

// S3 stores artifacts in AWS S3 or S3-compatible storage
type S3 struct {
	config   S3Config
	s3Client *s3.S3
}

// NewS3 creates an S3 provider.
func NewS3(config S3Config) (*S3, error) {
	awsConfig := &aws.Config{
		Region: aws.String(config.Region),
		Credentials: credentials.NewStaticCredentials(
			config.AccessKey,
			config.SecretKey,
			"",
		),
	}

	if config.Endpoint != "" {
		awsConfig.Endpoint = aws.String(config.Endpoint)
		awsConfig.S3ForcePathStyle = aws.Bool(true)
		if strings.HasPrefix(config.Endpoint, "http://") {
			awsConfig.DisableSSL = aws.Bool(true)
		}
	}

	sess, err := session.NewSession(awsConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create AWS session: %w", err)
	}

	if config.StorageClass == "" {
		config.StorageClass = s3.StorageClassStandard
	}

	log.Printf("[S3Provider] Initialized bucket=%s region=%s", config.Bucket, config.Region)
	return &S3{config: config, s3Client: s3.New(sess)}, nil
}

func (p *S3) key(objectPath string) (string, error) {
	clean, err := cleanPath(objectPath)
	if err != nil {
		return "", err
	}
	return joinPrefix(p.config.Prefix, clean), nil
}

// Store uploads the artifact. PutObject needs a seekable body, so the bytes
// are buffered while being hashed.
func (p *S3) Store(ctx context.Context, r io.Reader, dest string) (StoreResult, error) {
	clean, err := cleanPath(dest)
	if err != nil {
		return StoreResult{}, err
	}
	key := joinPrefix(p.config.Prefix, clean)

	hr := newHashingReader(r)
	data, err := io.ReadAll(hr)
	if err != nil {
		return StoreResult{}, fmt.Errorf("failed to read data: %w", err)
	}
	res := hr.result(clean)

	_, err = p.s3Client.PutObjectWithContext(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(p.config.Bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(data),
		ContentLength: aws.Int64(int64(len(data))),
		ContentType:   aws.String("application/octet-stream"),
		StorageClass:  aws.String(p.config.StorageClass),
		Metadata:      map[string]*string{"Sha256": aws.String(res.Checksum)},
	})
	if err != nil {
		return StoreResult{}, fmt.Errorf("failed to upload to S3: %w", err)
	}

	log.Printf("[S3Provider] Stored s3://%s/%s (%d bytes)", p.config.Bucket, key, hr.size)
	return res, nil
}

// Fetch downloads an artifact.
func (p *S3) Fetch(ctx context.Context, objectPath string) ([]byte, error) {
	key, err := p.key(objectPath)
	if err != nil {
		return nil, err
	}

	result, err := p.s3Client.GetObjectWithContext(ctx, &s3.GetObjectInput{
		Bucket: aws.String(p.config.Bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if isS3NotFound(err) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, objectPath)
		}
		return nil, fmt.Errorf("failed to get object from S3: %w", err)
	}
	defer result.Body.Close()

	data, err := io.ReadAll(result.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read S3 object: %w", err)
	}
	return data, nil
}

// Remove deletes an artifact. S3 deletes are idempotent.
func (p *S3) Remove(ctx context.Context, objectPath string) error {
	key, err := p.key(objectPath)
	if err != nil {
		return err
	}

	_, err = p.s3Client.DeleteObjectWithContext(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(p.config.Bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return fmt.Errorf("failed to delete from S3: %w", err)
	}

	log.Printf("[S3Provider] Removed s3://%s/%s", p.config.Bucket, key)
	return nil
}

// List returns artifacts under prefix.
func (p *S3) List(ctx context.Context, prefix string) ([]Object, error) {
	strip := strings.Trim(p.config.Prefix, "/")
	if strip != "" {
		strip += "/"
	}
	full := strip
	if sub := strings.Trim(prefix, "/"); sub != "" {
		full += sub + "/"
	}

	var objects []Object
	err := p.s3Client.ListObjectsV2PagesWithContext(ctx, &s3.ListObjectsV2Input{
		Bucket: aws.String(p.config.Bucket),
		Prefix: aws.String(full),
	}, func(page *s3.ListObjectsV2Output, last bool) bool {
		for _, obj := range page.Contents {
			key := aws.StringValue(obj.Key)
			if strings.HasSuffix(key, "/") {
				continue
			}
			objects = append(objects, Object{
				Path:    strings.TrimPrefix(key, strip),
				Size:    aws.Int64Value(obj.Size),
				ModTime: aws.TimeValue(obj.LastModified),
			})
		}
		return true
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list S3 objects: %w", err)
	}
	return objects, nil
}

// Type implements Provider.
func (p *S3) Type() models.ProviderType {
	return models.ProviderS3
}

func isS3NotFound(err error) bool {
	if aerr, ok := err.(awserr.Error); ok {
		switch aerr.Code() {
		case s3.ErrCodeNoSuchKey, "NotFound":
			return true
		}
	}
	return false
}
