package archive

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/rs/zerolog/log"
	"github.com/tanq16/catchup/internal/config"
	"github.com/tanq16/catchup/internal/utils"
)

const contentType = "video/mp2t"

var ErrNoBucket = errors.New("archive bucket not configured")

//go:generate mockgen -destination=mocks/store.go -package=mocks . Store

// Store is the object storage a finished recording is copied to.
type Store interface {
	Stat(ctx context.Context, bucket, key string) (size int64, found bool, err error)
	Put(ctx context.Context, bucket, key string, body io.Reader) (location string, err error)
}

type Result struct {
	Location string
	Size     int64
	Skipped  bool
}

type Archiver struct {
	store  Store
	bucket string
	prefix string
}

// New builds an S3 backed archiver from the shared AWS config chain.
func New(ctx context.Context, cfg config.ArchiveConfig) (*Archiver, error) {
	if cfg.Bucket == "" {
		return nil, ErrNoBucket
	}
	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRetryMode(aws.RetryModeAdaptive),
	}
	if cfg.Profile != "" {
		opts = append(opts, awsconfig.WithSharedConfigProfile(cfg.Profile))
	}
	if cfg.Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.Region))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("error loading AWS config: %v", err)
	}
	return NewWithStore(newS3Store(s3.NewFromConfig(awsCfg)), cfg.Bucket, cfg.Prefix), nil
}

func NewWithStore(store Store, bucket, prefix string) *Archiver {
	return &Archiver{store: store, bucket: bucket, prefix: strings.Trim(prefix, "/")}
}

// Key returns the object key a local recording is stored under.
func (a *Archiver) Key(localPath string) string {
	return path.Join(a.prefix, filepath.Base(localPath))
}

// Upload copies the recording at localPath to the bucket. An object of the
// same size already at the key is left alone.
func (a *Archiver) Upload(ctx context.Context, localPath string, progress func(done, total int64)) (Result, error) {
	info, err := os.Stat(localPath)
	if err != nil {
		return Result{}, fmt.Errorf("error reading recording: %v", err)
	}
	key := a.Key(localPath)
	location := fmt.Sprintf("s3://%s/%s", a.bucket, key)

	size, found, err := a.store.Stat(ctx, a.bucket, key)
	if err != nil {
		return Result{}, fmt.Errorf("error checking %s: %w", location, err)
	}
	if found && size == info.Size() {
		log.Info().Str("op", "archive/upload").Msgf("%s already archived, skipping", location)
		return Result{Location: location, Size: size, Skipped: true}, nil
	}

	f, err := os.Open(localPath)
	if err != nil {
		return Result{}, fmt.Errorf("error opening recording: %v", err)
	}
	defer f.Close()

	log.Debug().Str("op", "archive/upload").Msgf("Uploading %s (%s) to %s", localPath, utils.FormatBytes(uint64(info.Size())), location)
	body := &progressReader{r: f, total: info.Size(), fn: progress}
	if loc, err := a.store.Put(ctx, a.bucket, key, body); err != nil {
		return Result{}, fmt.Errorf("error uploading %s: %w", location, err)
	} else if loc != "" {
		log.Debug().Str("op", "archive/upload").Msgf("Stored at %s", loc)
	}
	return Result{Location: location, Size: info.Size()}, nil
}

type progressReader struct {
	r     io.Reader
	done  int64
	total int64
	fn    func(done, total int64)
}

func (p *progressReader) Read(b []byte) (int, error) {
	n, err := p.r.Read(b)
	if n > 0 {
		p.done += int64(n)
		if p.fn != nil {
			p.fn(p.done, p.total)
		}
	}
	return n, err
}

type s3Store struct {
	client   *s3.Client
	uploader *manager.Uploader
}

func newS3Store(client *s3.Client) *s3Store {
	return &s3Store{
		client: client,
		uploader: manager.NewUploader(client, func(u *manager.Uploader) {
			u.PartSize = 4 * utils.DefaultBufferSize
			u.Concurrency = 4
			u.BufferProvider = manager.NewBufferedReadSeekerWriteToPool(utils.DefaultBufferSize)
		}),
	}
}

func (s *s3Store) Stat(ctx context.Context, bucket, key string) (int64, bool, error) {
	out, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var nf *types.NotFound
		if errors.As(err, &nf) {
			return 0, false, nil
		}
		return 0, false, err
	}
	return aws.ToInt64(out.ContentLength), true, nil
}

func (s *s3Store) Put(ctx context.Context, bucket, key string, body io.Reader) (string, error) {
	out, err := s.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(bucket),
		Key:         aws.String(key),
		Body:        body,
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return "", err
	}
	return out.Location, nil
}
