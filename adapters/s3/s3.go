package s3

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"path"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"livebid/auction"
)

var ErrNotTerminal = errors.New("auction is not in a terminal state")

// IObjectPutter 上傳物件所需的最小 S3 介面，*s3.Client 即滿足
type IObjectPutter interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

type archiverOptions struct {
	logger         *slog.Logger
	prefix         string
	publicEndpoint *url.URL
}

type ArchiverOption func(*archiverOptions)

// WithArchiverLogger 設置日誌記錄器
func WithArchiverLogger(logger *slog.Logger) ArchiverOption {
	return func(o *archiverOptions) {
		o.logger = logger
	}
}

// WithKeyPrefix 設置物件 key 的前綴，預設為 "auctions"
func WithKeyPrefix(prefix string) ArchiverOption {
	return func(o *archiverOptions) {
		o.prefix = prefix
	}
}

// WithPublicEndpoint 設置存儲桶的公開 Endpoint，
// 設置後 Archive 會回傳可直接存取的 URL
func WithPublicEndpoint(endpoint *url.URL) ArchiverOption {
	return func(o *archiverOptions) {
		o.publicEndpoint = endpoint
	}
}

// Archiver 將已結束或已取消的拍賣快照以 JSON 寫入 S3
type Archiver struct {
	client  IObjectPutter
	bucket  string
	logger  *slog.Logger
	options archiverOptions
}

func NewArchiver(client IObjectPutter, bucket string, opts ...ArchiverOption) (*Archiver, error) {
	const op = "s3.NewArchiver"
	if client == nil {
		return nil, fmt.Errorf("[%s] s3 client is required", op)
	}
	if bucket == "" {
		return nil, fmt.Errorf("[%s] bucket is required", op)
	}

	// 默認選項
	options := archiverOptions{
		logger: slog.Default(),
		prefix: "auctions",
	}
	// 應用自定義選項
	for _, opt := range opts {
		opt(&options)
	}

	return &Archiver{
		client:  client,
		bucket:  bucket,
		logger:  options.logger.With(slog.String("caller", "Archiver")),
		options: options,
	}, nil
}

// Key 回傳拍賣快照的物件 key
func (a *Archiver) Key(auctionID string) string {
	return path.Join(a.options.prefix, auctionID+".json")
}

// Archive 上傳拍賣的終止快照，回傳物件位置
// 同一場拍賣重複上傳會覆寫同一個 key
func (a *Archiver) Archive(ctx context.Context, record *auction.Auction) (string, error) {
	const op = "s3.Archive"
	if record == nil || !record.State.IsTerminal() {
		return "", fmt.Errorf("[%s] %w", op, ErrNotTerminal)
	}

	content, err := json.Marshal(record)
	if err != nil {
		return "", fmt.Errorf("[%s] Fail to encode auction, err=%w", op, err)
	}

	key := a.Key(record.ID)
	_, err = a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(content),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return "", fmt.Errorf("[%s] Fail to upload auction to S3, err=%w", op, err)
	}
	a.logger.Info("auction archived",
		slog.String("auctionID", record.ID),
		slog.String("state", string(record.State)),
		slog.String("key", key))

	if a.options.publicEndpoint == nil {
		return fmt.Sprintf("s3://%s/%s", a.bucket, key), nil
	}
	uri := *a.options.publicEndpoint
	uri.Path = path.Join("/", uri.Path, key)
	return uri.String(), nil
}
