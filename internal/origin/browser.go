package origin

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/dustin/go-humanize"
	"github.com/sirupsen/logrus"
)

const lastModifiedLayout = "2006-01-02 15:04:05"

// BrowserOptions 描述目录浏览所需的依赖。
type BrowserOptions struct {
	Objects    ObjectLister
	Presigner  ObjectPresigner
	Bucket     string
	PathPrefix string
	PublicURL  string
	PresignTTL time.Duration
	Logger     *logrus.Logger
}

// Browser 以 "/" 为分隔符列出桶内的一层目录。
type Browser struct {
	objects    ObjectLister
	presigner  ObjectPresigner
	bucket     string
	thumbs     string
	publicURL  string
	presignTTL time.Duration
	logger     *logrus.Logger
}

// Listing 是一次目录列表的结果。
type Listing struct {
	Prefix  string  `json:"prefix"`
	Crumbs  []Crumb `json:"crumbs"`
	Entries []Entry `json:"entries"`
}

// Crumb 是面包屑中的一级目录。
type Crumb struct {
	Name   string `json:"name"`
	Prefix string `json:"prefix"`
}

// Entry 是目录或文件；目录只有 name/key/is_dir。
type Entry struct {
	Name         string `json:"name"`
	Key          string `json:"key"`
	IsDir        bool   `json:"is_dir"`
	Size         int64  `json:"size,omitempty"`
	SizeHuman    string `json:"size_human,omitempty"`
	LastModified string `json:"last_modified,omitempty"`
	FileURL      string `json:"file_url,omitempty"`
	ThumbURL     string `json:"thumb_url,omitempty"`
	PublicURL    string `json:"public_url,omitempty"`
	PresignedURL string `json:"presigned_url,omitempty"`
}

// NewBrowser 校验依赖并构造 Browser，Presigner 可为空。
func NewBrowser(opts BrowserOptions) (*Browser, error) {
	if opts.Objects == nil {
		return nil, errors.New("object lister is required")
	}
	if strings.TrimSpace(opts.Bucket) == "" {
		return nil, errors.New("bucket is required")
	}
	if opts.PathPrefix == "" {
		opts.PathPrefix = "/thumb/"
	}
	if opts.PresignTTL <= 0 {
		opts.PresignTTL = time.Hour
	}
	if opts.Logger == nil {
		opts.Logger = logrus.StandardLogger()
	}
	return &Browser{
		objects:    opts.Objects,
		presigner:  opts.Presigner,
		bucket:     opts.Bucket,
		thumbs:     opts.PathPrefix,
		publicURL:  strings.TrimRight(opts.PublicURL, "/"),
		presignTTL: opts.PresignTTL,
		logger:     opts.Logger,
	}, nil
}

// NormalizePrefix 去掉前导 "/"，非空时补齐结尾 "/"。
func NormalizePrefix(prefix string) string {
	prefix = strings.TrimLeft(prefix, "/")
	if prefix != "" && !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}
	return prefix
}

// List 列出 prefix 下的子目录和文件，目录在前、同类按名称排序。
// withLinks 为 true 时为文件附加公共地址和预签名地址。
func (b *Browser) List(ctx context.Context, prefix string, withLinks bool) (*Listing, error) {
	prefix = NormalizePrefix(prefix)
	input := &s3.ListObjectsV2Input{
		Bucket:    aws.String(b.bucket),
		Delimiter: aws.String("/"),
	}
	if prefix != "" {
		input.Prefix = aws.String(prefix)
	}

	var files, dirs []Entry
	pages := s3.NewListObjectsV2Paginator(b.objects, input)
	for pages.HasMorePages() {
		page, err := pages.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("list objects %q: %w", prefix, err)
		}
		for _, obj := range page.Contents {
			key := aws.ToString(obj.Key)
			// 目录占位对象不作为文件展示
			if key == prefix || strings.HasSuffix(key, "/") {
				continue
			}
			files = append(files, b.fileEntry(ctx, prefix, key, aws.ToInt64(obj.Size), obj.LastModified, withLinks))
		}
		for _, common := range page.CommonPrefixes {
			key := aws.ToString(common.Prefix)
			dirs = append(dirs, Entry{
				Name:  strings.TrimSuffix(strings.TrimPrefix(key, prefix), "/"),
				Key:   key,
				IsDir: true,
			})
		}
	}

	sort.Slice(dirs, func(i, j int) bool { return dirs[i].Name < dirs[j].Name })
	sort.Slice(files, func(i, j int) bool { return files[i].Name < files[j].Name })
	return &Listing{
		Prefix:  prefix,
		Crumbs:  crumbs(prefix),
		Entries: append(dirs, files...),
	}, nil
}

func (b *Browser) fileEntry(ctx context.Context, prefix, key string, size int64, modified *time.Time, withLinks bool) Entry {
	escaped := escapeKey(key)
	entry := Entry{
		Name:      strings.TrimPrefix(key, prefix),
		Key:       key,
		Size:      size,
		SizeHuman: humanize.Bytes(uint64(size)),
		FileURL:   FilePrefix + escaped,
		ThumbURL:  b.thumbs + escaped,
	}
	if modified != nil {
		entry.LastModified = modified.UTC().Format(lastModifiedLayout)
	}
	if !withLinks {
		return entry
	}
	if b.publicURL != "" {
		entry.PublicURL = b.publicURL + "/" + escaped
	}
	if b.presigner != nil {
		presigned, err := b.presigner.PresignGetObject(ctx, &s3.GetObjectInput{
			Bucket: aws.String(b.bucket),
			Key:    aws.String(key),
		}, s3.WithPresignExpires(b.presignTTL))
		if err != nil {
			b.logger.WithError(err).WithFields(logrus.Fields{
				"action": "presign_failed",
				"bucket": b.bucket,
				"key":    key,
			}).Warn("presign object failed")
		} else {
			entry.PresignedURL = presigned.URL
		}
	}
	return entry
}

func crumbs(prefix string) []Crumb {
	result := []Crumb{}
	if prefix == "" {
		return result
	}
	acc := ""
	for _, seg := range strings.Split(strings.TrimSuffix(prefix, "/"), "/") {
		acc += seg + "/"
		result = append(result, Crumb{Name: seg, Prefix: acc})
	}
	return result
}

// escapeKey 逐段转义对象键，保留 "/" 分隔。
func escapeKey(key string) string {
	segments := strings.Split(key, "/")
	for i, seg := range segments {
		segments[i] = url.PathEscape(seg)
	}
	return strings.Join(segments, "/")
}
