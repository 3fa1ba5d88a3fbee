package store

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awscfg "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/rs/zerolog/log"

	"github.com/local/minerudispatch/internal/config"
	"github.com/local/minerudispatch/internal/metrics"
)

// ErrObjectNotFound reports a download of a missing object.
var ErrObjectNotFound = errors.New("object not found")

// Client wraps the S3-compatible object store (MinIO in deployments).
type Client struct {
	s3       *s3.Client
	uploader *manager.Uploader
	// PrefixRoot namespaces default prefixes, PageDPI drives page renders.
	PrefixRoot string
	PageDPI    int
}

// AssetRecord describes one uploaded bundle.
type AssetRecord struct {
	Bucket     string      `json:"bucket"`
	Prefix     string      `json:"prefix"`
	PDFObject  string      `json:"pdf_object"`
	JSONObject string      `json:"json_object"`
	PageImages []PageImage `json:"page_images"`
	MetaObject *string     `json:"meta_object"`
}

// PageImage is one rendered page object.
type PageImage struct {
	PageNumber int    `json:"page_number"`
	ObjectName string `json:"object_name"`
}

// ObjectInfo describes a downloadable object.
type ObjectInfo struct {
	Size        int64  `json:"size"`
	ContentType string `json:"content_type"`
	ETag        string `json:"etag"`
}

// ParseEndpoint accepts "host:port" or "scheme://host[:port]" and
// returns the full base URL; a https scheme keeps TLS on, everything
// else is plain http.
func ParseEndpoint(raw string) (string, error) {
	ep := strings.TrimSpace(raw)
	if ep == "" {
		return "", fmt.Errorf("empty object-store endpoint")
	}
	if strings.Contains(ep, "://") {
		scheme, rest, _ := strings.Cut(ep, "://")
		switch scheme {
		case "http", "https":
			if rest == "" {
				return "", fmt.Errorf("object-store endpoint %q has no host", raw)
			}
			return scheme + "://" + strings.TrimRight(rest, "/"), nil
		default:
			return "", fmt.Errorf("unsupported object-store scheme %q", scheme)
		}
	}
	return "http://" + ep, nil
}

// New connects to the object store with static credentials.
func New(ctx context.Context, cfg config.StoreConfig) (*Client, error) {
	endpoint, err := ParseEndpoint(cfg.Endpoint)
	if err != nil {
		return nil, err
	}
	awsCfg, err := awscfg.LoadDefaultConfig(ctx,
		awscfg.WithRegion(cfg.Region),
		awscfg.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, "")),
	)
	if err != nil {
		return nil, fmt.Errorf("load object-store config: %w", err)
	}
	cli := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.BaseEndpoint = aws.String(endpoint)
		o.UsePathStyle = true
	})
	return &Client{
		s3:         cli,
		uploader:   manager.NewUploader(cli),
		PrefixRoot: cfg.PrefixRoot,
		PageDPI:    cfg.PageDPI,
	}, nil
}

// EnsureBucket creates the bucket, tolerating concurrent creation.
func (c *Client) EnsureBucket(ctx context.Context, bucket string) error {
	_, err := c.s3.CreateBucket(ctx, &s3.CreateBucketInput{Bucket: aws.String(bucket)})
	if err != nil {
		var owned *s3types.BucketAlreadyOwnedByYou
		var exists *s3types.BucketAlreadyExists
		if errors.As(err, &owned) || errors.As(err, &exists) {
			return nil
		}
		return fmt.Errorf("create bucket %s: %w", bucket, err)
	}
	return nil
}

// ClearPrefix deletes every object under a non-empty prefix. An empty
// normalized prefix would wipe the bucket, so it is refused.
func (c *Client) ClearPrefix(ctx context.Context, bucket, prefix string) error {
	prefix = strings.Trim(strings.TrimSpace(prefix), "/")
	if prefix == "" {
		return fmt.Errorf("refusing to clear empty prefix in bucket %s", bucket)
	}
	prefix += "/"

	paginator := s3.NewListObjectsV2Paginator(c.s3, &s3.ListObjectsV2Input{
		Bucket: aws.String(bucket),
		Prefix: aws.String(prefix),
	})
	removed := 0
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return fmt.Errorf("list %s/%s: %w", bucket, prefix, err)
		}
		if len(page.Contents) == 0 {
			continue
		}
		ids := make([]s3types.ObjectIdentifier, 0, len(page.Contents))
		for _, obj := range page.Contents {
			ids = append(ids, s3types.ObjectIdentifier{Key: obj.Key})
		}
		_, err = c.s3.DeleteObjects(ctx, &s3.DeleteObjectsInput{
			Bucket: aws.String(bucket),
			Delete: &s3types.Delete{Objects: ids, Quiet: aws.Bool(true)},
		})
		if err != nil {
			return fmt.Errorf("delete under %s/%s: %w", bucket, prefix, err)
		}
		removed += len(ids)
	}
	if removed > 0 {
		log.Debug().Str("bucket", bucket).Str("prefix", prefix).Int("objects", removed).Msg("cleared prefix")
	}
	return nil
}

// UploadBundle uploads source.pdf, parsed.json and the per-page JPEGs
// under the prefix. The prefix is cleared first so re-uploads are
// deterministic.
func (c *Client) UploadBundle(ctx context.Context, bucket, prefix, pdfPath string, parsed any, dpi int) (*AssetRecord, error) {
	rec, err := c.uploadBundle(ctx, bucket, prefix, pdfPath, parsed, dpi)
	if err != nil {
		metrics.IncUpload("error")
		return nil, err
	}
	metrics.IncUpload("success")
	return rec, nil
}

func (c *Client) uploadBundle(ctx context.Context, bucket, prefix, pdfPath string, parsed any, dpi int) (*AssetRecord, error) {
	prefix = strings.Trim(prefix, "/")
	if prefix == "" {
		return nil, fmt.Errorf("empty upload prefix")
	}
	if dpi <= 0 {
		dpi = c.PageDPI
	}
	if err := c.EnsureBucket(ctx, bucket); err != nil {
		return nil, err
	}
	if err := c.ClearPrefix(ctx, bucket, prefix); err != nil {
		return nil, err
	}

	rec := &AssetRecord{
		Bucket:     bucket,
		Prefix:     prefix,
		PDFObject:  prefix + "/source.pdf",
		JSONObject: prefix + "/parsed.json",
	}

	pdf, err := openFile(pdfPath)
	if err != nil {
		return nil, err
	}
	defer pdf.Close()
	if err := c.put(ctx, bucket, rec.PDFObject, pdf, "application/pdf"); err != nil {
		return nil, err
	}

	payload, err := json.Marshal(parsed)
	if err != nil {
		return nil, fmt.Errorf("encode parsed payload: %w", err)
	}
	if err := c.put(ctx, bucket, rec.JSONObject, bytes.NewReader(payload), "application/json"); err != nil {
		return nil, err
	}

	err = RenderPages(pdfPath, dpi, func(pageNumber int, jpegData []byte) error {
		name := fmt.Sprintf("%s/pages/page_%04d.jpg", prefix, pageNumber)
		if err := c.put(ctx, bucket, name, bytes.NewReader(jpegData), "image/jpeg"); err != nil {
			return err
		}
		rec.PageImages = append(rec.PageImages, PageImage{PageNumber: pageNumber, ObjectName: name})
		return nil
	})
	if err != nil {
		return nil, err
	}

	log.Info().Str("bucket", bucket).Str("prefix", prefix).Int("pages", len(rec.PageImages)).Msg("uploaded bundle")
	return rec, nil
}

// UploadText stores a small text sidecar (meta.txt) under the prefix.
func (c *Client) UploadText(ctx context.Context, bucket, prefix, name, content string) (string, error) {
	object := strings.Trim(prefix, "/") + "/" + name
	if err := c.put(ctx, bucket, object, strings.NewReader(content), "text/plain; charset=utf-8"); err != nil {
		return "", err
	}
	return object, nil
}

func (c *Client) put(ctx context.Context, bucket, key string, body io.Reader, contentType string) error {
	_, err := c.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(bucket),
		Key:         aws.String(key),
		Body:        body,
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return fmt.Errorf("upload %s/%s: %w", bucket, key, err)
	}
	return nil
}

// PrepareDownload opens an object for streaming. Missing keys map to
// ErrObjectNotFound so the facade can answer 404 instead of 500.
func (c *Client) PrepareDownload(ctx context.Context, bucket, object string) (io.ReadCloser, ObjectInfo, error) {
	out, err := c.s3.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(object),
	})
	if err != nil {
		var noKey *s3types.NoSuchKey
		if errors.As(err, &noKey) || strings.Contains(err.Error(), "NoSuchKey") {
			return nil, ObjectInfo{}, fmt.Errorf("%s/%s: %w", bucket, object, ErrObjectNotFound)
		}
		return nil, ObjectInfo{}, fmt.Errorf("get %s/%s: %w", bucket, object, err)
	}
	info := ObjectInfo{
		ContentType: aws.ToString(out.ContentType),
		ETag:        strings.Trim(aws.ToString(out.ETag), `"`),
	}
	if out.ContentLength != nil {
		info.Size = *out.ContentLength
	}
	return out.Body, info, nil
}
