package origin

import (
	"context"
	"crypto/md5"
	_ "embed"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/dustin/go-humanize"
	"github.com/sirupsen/logrus"

	"github.com/any-hub/thumb-hub/internal/config"
	"github.com/any-hub/thumb-hub/internal/fetch"
)

//go:embed placeholder.svg
var placeholderSVG []byte

// Options 描述源站 Fetcher 的依赖。
type Options struct {
	Objects    ObjectGetter
	Bucket     string
	PathPrefix string
	TTL        time.Duration
	Renderer   Renderer
	Logger     *logrus.Logger
}

// Fetcher 从桶中读取原图并生成缩略图，实现 fetch.Fetcher。
type Fetcher struct {
	objects  ObjectGetter
	bucket   string
	prefix   string
	ttl      time.Duration
	renderer Renderer
	logger   *logrus.Logger
}

// NewFetcher 校验依赖并构造 Fetcher。
func NewFetcher(opts Options) (*Fetcher, error) {
	if opts.Objects == nil {
		return nil, errors.New("object getter is required")
	}
	if strings.TrimSpace(opts.Bucket) == "" {
		return nil, errors.New("bucket is required")
	}
	if opts.PathPrefix == "" {
		opts.PathPrefix = "/thumb/"
	}
	if opts.TTL <= 0 {
		opts.TTL = time.Hour
	}
	if opts.Renderer.MaxSize <= 0 {
		opts.Renderer.MaxSize = 320
	}
	if opts.Renderer.Quality <= 0 {
		opts.Renderer.Quality = 80
	}
	if opts.Logger == nil {
		opts.Logger = logrus.StandardLogger()
	}
	return &Fetcher{
		objects:  opts.Objects,
		bucket:   opts.Bucket,
		prefix:   opts.PathPrefix,
		ttl:      opts.TTL,
		renderer: opts.Renderer,
		logger:   opts.Logger,
	}, nil
}

// NewFromConfig 按配置构造共享同一 S3 客户端的缩略图 Fetcher 与目录 Browser。
func NewFromConfig(ctx context.Context, global config.GlobalConfig, cfg config.OriginConfig, logger *logrus.Logger) (*Fetcher, *Browser, error) {
	client, err := NewS3Client(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}
	thumbs, err := NewFetcher(Options{
		Objects:    client,
		Bucket:     cfg.Bucket,
		PathPrefix: global.PathPrefix,
		TTL:        cfg.ThumbTTL.DurationValue(),
		Renderer:   Renderer{MaxSize: cfg.ThumbSize, Quality: cfg.JPEGQuality},
		Logger:     logger,
	})
	if err != nil {
		return nil, nil, err
	}
	browser, err := NewBrowser(BrowserOptions{
		Objects:    client,
		Presigner:  s3.NewPresignClient(client),
		Bucket:     cfg.Bucket,
		PathPrefix: global.PathPrefix,
		PublicURL:  cfg.PublicURL,
		PresignTTL: cfg.PresignExpires.DurationValue(),
		Logger:     logger,
	})
	if err != nil {
		return nil, nil, err
	}
	return thumbs, browser, nil
}

// Fetch 生成缩略图响应。客户端 If-None-Match 命中时返回 304；
// 读取或渲染失败时返回带相同缓存头的占位 SVG，而不是错误。
func (f *Fetcher) Fetch(ctx context.Context, req *fetch.Request) (*fetch.Response, error) {
	if req == nil {
		return nil, errors.New("request required")
	}
	key := strings.TrimPrefix(req.Path(), f.prefix)
	if key == "" || key == req.Path() {
		return fetch.NewResponse(http.StatusNotFound, nil, nil), nil
	}

	headers := f.cacheHeaders(key)
	if match := req.Header.Get("If-None-Match"); match != "" && match == headers.Get("ETag") {
		return fetch.NewResponse(http.StatusNotModified, headers, nil), nil
	}

	started := time.Now()
	obj, err := getObject(ctx, f.objects, f.bucket, key)
	if err != nil {
		f.logFailure("thumb_fetch_failed", key, err)
		return f.placeholder(headers), nil
	}
	data, err := io.ReadAll(obj.Body)
	obj.Body.Close()
	if err != nil {
		f.logFailure("thumb_fetch_failed", key, err)
		return f.placeholder(headers), nil
	}

	thumb, err := f.renderer.Render(data)
	if err != nil {
		f.logFailure("thumb_render_failed", key, err)
		return f.placeholder(headers), nil
	}

	headers.Set("Content-Type", "image/jpeg")
	headers.Set("Content-Length", strconv.Itoa(len(thumb)))
	f.logger.WithFields(logrus.Fields{
		"action":     "thumb_render",
		"key":        key,
		"source":     humanize.Bytes(uint64(len(data))),
		"thumb":      humanize.Bytes(uint64(len(thumb))),
		"elapsed_ms": time.Since(started).Milliseconds(),
	}).Debug("thumbnail rendered")
	return fetch.NewResponse(http.StatusOK, headers, thumb), nil
}

func (f *Fetcher) cacheHeaders(key string) http.Header {
	sum := md5.Sum([]byte(key))
	headers := http.Header{}
	headers.Set("Cache-Control", fmt.Sprintf("public, max-age=%d", int64(f.ttl/time.Second)))
	headers.Set("ETag", `W/"`+hex.EncodeToString(sum[:])+`"`)
	return headers
}

func (f *Fetcher) placeholder(headers http.Header) *fetch.Response {
	headers.Set("Content-Type", "image/svg+xml")
	headers.Set("Content-Length", strconv.Itoa(len(placeholderSVG)))
	return fetch.NewResponse(http.StatusOK, headers, placeholderSVG)
}

func (f *Fetcher) logFailure(action, key string, err error) {
	f.logger.WithError(err).WithFields(logrus.Fields{
		"action": action,
		"bucket": f.bucket,
		"key":    key,
	}).Warn("serving placeholder thumbnail")
}
