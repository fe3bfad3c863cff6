package cache

import (
	"bufio"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/any-hub/thumb-hub/internal/fetch"
)

const entrySuffix = ".entry"

// NewStorage 以 basePath 为根目录构建磁盘缓存，整站复用一份实例。
func NewStorage(basePath string) (Storage, error) {
	if basePath == "" {
		return nil, errors.New("storage path required")
	}

	abs, err := filepath.Abs(basePath)
	if err != nil {
		return nil, fmt.Errorf("resolve storage path: %w", err)
	}

	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("create storage path: %w", err)
	}

	return &fileStorage{
		basePath: abs,
		locks:    make(map[string]*entryLock),
		now:      time.Now,
	}, nil
}

// fileStorage 通过 entryLock 避免同一条目并发写入，所有具名缓存共享锁表。
type fileStorage struct {
	basePath string
	now      func() time.Time

	mu    sync.Mutex
	locks map[string]*entryLock
}

type entryLock struct {
	mu   sync.Mutex
	refs int
}

func (s *fileStorage) Open(ctx context.Context, name string) (Cache, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := ValidateName(name); err != nil {
		return nil, err
	}
	dir := filepath.Join(s.basePath, name)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create cache %s: %w", name, err)
	}
	return &fileCache{storage: s, name: name, dir: dir}, nil
}

func (s *fileStorage) Names(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	items, err := os.ReadDir(s.basePath)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(items))
	for _, item := range items {
		if item.IsDir() && ValidateName(item.Name()) == nil {
			names = append(names, item.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}

func (s *fileStorage) lockEntry(key string) func() {
	s.mu.Lock()
	lock := s.locks[key]
	if lock == nil {
		lock = &entryLock{}
		s.locks[key] = lock
	}
	lock.refs++
	s.mu.Unlock()

	lock.mu.Lock()
	return func() {
		lock.mu.Unlock()
		s.mu.Lock()
		lock.refs--
		if lock.refs == 0 {
			delete(s.locks, key)
		}
		s.mu.Unlock()
	}
}

// fileCache 是单个具名缓存，目录下每个请求键对应一个 <sha256>.entry 文件。
type fileCache struct {
	storage *fileStorage
	name    string
	dir     string
}

func (c *fileCache) Name() string {
	return c.name
}

func (c *fileCache) Match(ctx context.Context, req *fetch.Request) (*fetch.Response, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if req == nil {
		return nil, errors.New("request required")
	}

	filePath := c.entryPath(req.Key())
	f, err := os.Open(filePath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	reader := bufio.NewReader(f)
	entry, err := readEntryHeader(reader)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("decode cache entry %s: %w", filePath, err)
	}
	// 哈希碰撞或旧格式文件一律视为未命中。
	if entry.Key() != req.Key() {
		f.Close()
		return nil, ErrNotFound
	}

	header := entry.Header.Clone()
	if header == nil {
		header = http.Header{}
	}
	return &fetch.Response{
		StatusCode: entry.StatusCode,
		Header:     header,
		Body:       &entryBody{Reader: reader, file: f},
	}, nil
}

func (c *fileCache) Put(ctx context.Context, req *fetch.Request, resp *fetch.Response) (*Entry, error) {
	if req == nil || resp == nil {
		return nil, errors.New("request and response required")
	}
	if req.Method != http.MethodGet {
		return nil, fmt.Errorf("%w: %s", ErrMethodNotCacheable, req.Method)
	}
	if resp.StatusCode == http.StatusPartialContent {
		return nil, ErrPartialResponse
	}
	defer resp.Close()

	key := req.Key()
	unlock := c.storage.lockEntry(c.name + "::" + key)
	defer unlock()

	filePath := c.entryPath(key)
	if err := os.MkdirAll(filepath.Dir(filePath), 0o755); err != nil {
		return nil, err
	}

	tempFile, err := os.CreateTemp(filepath.Dir(filePath), ".cache-*")
	if err != nil {
		return nil, err
	}
	tempName := tempFile.Name()

	entry := Entry{
		Method:     req.Method,
		URL:        strings.TrimPrefix(key, req.Method+" "),
		StatusCode: resp.StatusCode,
		Header:     resp.Header.Clone(),
		StoredAt:   c.storage.now().UTC(),
		FilePath:   filePath,
	}

	written, err := writeEntry(ctx, tempFile, entry, resp.Body)
	closeErr := tempFile.Close()
	if err == nil {
		err = closeErr
	}
	if err != nil {
		os.Remove(tempName)
		return nil, err
	}

	if err := os.Rename(tempName, filePath); err != nil {
		os.Remove(tempName)
		return nil, err
	}

	entry.SizeBytes = written
	return &entry, nil
}

func (c *fileCache) Delete(ctx context.Context, req *fetch.Request) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	key := req.Key()
	unlock := c.storage.lockEntry(c.name + "::" + key)
	defer unlock()

	if err := os.Remove(c.entryPath(key)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

func (c *fileCache) Keys(ctx context.Context) ([]Entry, error) {
	items, err := os.ReadDir(c.dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	entries := make([]Entry, 0, len(items))
	for _, item := range items {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if item.IsDir() || !strings.HasSuffix(item.Name(), entrySuffix) {
			continue
		}
		entry, err := c.statEntry(filepath.Join(c.dir, item.Name()))
		if err != nil {
			continue
		}
		entries = append(entries, entry)
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Key() < entries[j].Key()
	})
	return entries, nil
}

func (c *fileCache) statEntry(filePath string) (Entry, error) {
	f, err := os.Open(filePath)
	if err != nil {
		return Entry{}, err
	}
	defer f.Close()

	reader := bufio.NewReader(f)
	entry, err := readEntryHeader(reader)
	if err != nil {
		return Entry{}, err
	}
	size, err := io.Copy(io.Discard, reader)
	if err != nil {
		return Entry{}, err
	}
	entry.SizeBytes = size
	entry.FilePath = filePath
	return entry, nil
}

func (c *fileCache) entryPath(key string) string {
	sum := sha256.Sum256([]byte(key))
	return filepath.Join(c.dir, hex.EncodeToString(sum[:])+entrySuffix)
}

// entryBody 将 header 之后的剩余字节作为正文，Close 时关闭底层文件。
type entryBody struct {
	io.Reader
	file *os.File
}

func (b *entryBody) Close() error {
	return b.file.Close()
}

func writeEntry(ctx context.Context, dst io.Writer, entry Entry, body io.Reader) (int64, error) {
	header, err := json.Marshal(entry)
	if err != nil {
		return 0, fmt.Errorf("encode cache entry: %w", err)
	}
	if _, err := dst.Write(append(header, '\n')); err != nil {
		return 0, err
	}
	if body == nil {
		return 0, nil
	}
	return copyWithContext(ctx, dst, body)
}

func readEntryHeader(reader *bufio.Reader) (Entry, error) {
	line, err := reader.ReadBytes('\n')
	if err != nil {
		return Entry{}, err
	}
	var entry Entry
	if err := json.Unmarshal(line, &entry); err != nil {
		return Entry{}, err
	}
	return entry, nil
}

func copyWithContext(ctx context.Context, dst io.Writer, src io.Reader) (int64, error) {
	var copied int64
	buf := make([]byte, 32*1024)
	for {
		if err := ctx.Err(); err != nil {
			return copied, err
		}
		n, err := src.Read(buf)
		if n > 0 {
			w, wErr := dst.Write(buf[:n])
			copied += int64(w)
			if wErr != nil {
				return copied, wErr
			}
			if w < n {
				return copied, io.ErrShortWrite
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return copied, nil
			}
			return copied, err
		}
	}
}

// ValidateName 检查缓存名称能否安全地映射为目录名。
func ValidateName(name string) error {
	switch {
	case strings.TrimSpace(name) == "":
		return fmt.Errorf("%w: empty", ErrInvalidName)
	case name == "." || name == "..":
		return fmt.Errorf("%w: %s", ErrInvalidName, name)
	case strings.ContainsAny(name, `/\`):
		return fmt.Errorf("%w: %s", ErrInvalidName, name)
	case strings.HasPrefix(name, "."):
		return fmt.Errorf("%w: %s", ErrInvalidName, name)
	}
	return nil
}
