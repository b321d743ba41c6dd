// Package blob stores uploaded files on local disk, gzip-compressed at
// rest. Validation is preflight: extension, declared size and magic bytes
// are all checked before a single byte lands on disk, so a rejected upload
// leaves nothing behind.
package blob

import (
	"bytes"
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"
	"unicode"

	"github.com/google/uuid"

	"github.com/chatsync/internal/logger"
	"github.com/chatsync/internal/model"
)

var (
	ErrBlockedType     = errors.New("file type not allowed")
	ErrTooLarge        = errors.New("file too large")
	ErrContentMismatch = errors.New("file content does not match its extension")
	ErrNotFound        = errors.New("file not found")
)

// Blocked extensions: executables and scripts. Everything else is allowed.
var BlockedExt = map[string]bool{
	".exe": true, ".sh": true, ".js": true, ".bat": true, ".cmd": true,
	".php": true, ".py": true, ".rb": true,
}

var avatarExt = map[string]bool{
	".jpg": true, ".jpeg": true, ".png": true, ".gif": true,
	".webp": true, ".heic": true,
}

// Info describes a stored blob; it is what message attachments embed.
type Info struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Size     int64  `json:"size"`
	MimeType string `json:"mime_type"`
	Kind     string `json:"kind"`
}

type Store struct {
	dir           string
	maxSize       int64
	maxAvatarSize int64
}

func NewStore(dir string, maxSize, maxAvatarSize int64) *Store {
	return &Store{dir: dir, maxSize: maxSize, maxAvatarSize: maxAvatarSize}
}

// Put validates and stores one attachment upload. size is the declared
// length; the copy is capped at it, so a lying client cannot smuggle more.
func (s *Store) Put(ctx context.Context, r io.Reader, filename string, size int64) (*Info, error) {
	return s.put(ctx, r, filename, size, s.maxSize, nil)
}

// PutAvatar stores a profile or group avatar: images only, smaller limit.
func (s *Store) PutAvatar(ctx context.Context, r io.Reader, filename string, size int64) (*Info, error) {
	return s.put(ctx, r, filename, size, s.maxAvatarSize, avatarExt)
}

func (s *Store) put(ctx context.Context, r io.Reader, filename string, size, maxSize int64, allow map[string]bool) (*Info, error) {
	defer logger.DeferLogDuration("blob.Put", time.Now())()

	// Some clients encode spaces as "+" in multipart filenames.
	filename = strings.ReplaceAll(filename, "+", " ")
	ext := strings.ToLower(filepath.Ext(filename))
	if BlockedExt[ext] {
		return nil, fmt.Errorf("blob.Put %q: %w", ext, ErrBlockedType)
	}
	if allow != nil && !allow[ext] {
		return nil, fmt.Errorf("blob.Put %q: %w", ext, ErrBlockedType)
	}
	if size <= 0 || size > maxSize {
		return nil, fmt.Errorf("blob.Put %d bytes: %w", size, ErrTooLarge)
	}

	head := make([]byte, 512)
	n, err := io.ReadAtLeast(r, head, len(head))
	if err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
		return nil, fmt.Errorf("blob.Put read head: %w", err)
	}
	head = head[:n]
	if !matchMagic(ext, head) {
		return nil, fmt.Errorf("blob.Put %q: %w", ext, ErrContentMismatch)
	}

	id := uuid.New().String() + ext
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return nil, fmt.Errorf("blob.Put mkdir: %w", err)
	}
	path := s.path(id)
	dst, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("blob.Put create: %w", err)
	}
	gz := gzip.NewWriter(dst)

	written, err := s.write(ctx, gz, head, io.LimitReader(r, maxSize-int64(len(head))+1))
	if err == nil {
		err = gz.Close()
	} else {
		gz.Close()
	}
	if err == nil {
		err = dst.Close()
	} else {
		dst.Close()
	}
	if err == nil && written > maxSize {
		err = ErrTooLarge
	}
	if err != nil {
		os.Remove(path)
		return nil, fmt.Errorf("blob.Put: %w", err)
	}

	mime := contentTypeByExt(ext)
	return &Info{
		ID:       id,
		Name:     displayName(filename, id),
		Size:     written,
		MimeType: mime,
		Kind:     string(model.ClassifyMime(mime)),
	}, nil
}

func (s *Store) write(ctx context.Context, dst io.Writer, head []byte, rest io.Reader) (int64, error) {
	if _, err := dst.Write(head); err != nil {
		return 0, fmt.Errorf("write: %w", err)
	}
	total := int64(len(head))
	buf := make([]byte, 32*1024)
	for {
		select {
		case <-ctx.Done():
			return total, fmt.Errorf("upload cancelled: %w", ctx.Err())
		default:
		}
		n, readErr := rest.Read(buf)
		if n > 0 {
			total += int64(n)
			if _, err := dst.Write(buf[:n]); err != nil {
				return total, fmt.Errorf("write: %w", err)
			}
		}
		if readErr == io.EOF {
			return total, nil
		}
		if readErr != nil {
			return total, fmt.Errorf("read: %w", readErr)
		}
	}
}

// Open returns the decompressed content of a stored blob. A plain
// uncompressed file under the same name is served as-is, for directories
// seeded by hand.
func (s *Store) Open(id string) (io.ReadCloser, error) {
	id = filepath.Base(id)
	if f, err := os.Open(s.path(id)); err == nil {
		gz, err := gzip.NewReader(f)
		if err != nil {
			f.Close()
			return nil, fmt.Errorf("blob.Open %s: %w", id, err)
		}
		return &gzipFile{gz: gz, f: f}, nil
	}
	if f, err := os.Open(filepath.Join(s.dir, id)); err == nil {
		return f, nil
	}
	return nil, fmt.Errorf("blob.Open %s: %w", id, ErrNotFound)
}

func (s *Store) Delete(id string) error {
	id = filepath.Base(id)
	err := os.Remove(s.path(id))
	if os.IsNotExist(err) {
		return fmt.Errorf("blob.Delete %s: %w", id, ErrNotFound)
	}
	return err
}

// ContentType returns the MIME type a blob should be served with, empty
// when unknown.
func ContentType(id string) string {
	return contentTypeByExt(strings.ToLower(filepath.Ext(id)))
}

func (s *Store) path(id string) string {
	return filepath.Join(s.dir, id+".gz")
}

type gzipFile struct {
	gz *gzip.Reader
	f  *os.File
}

func (g *gzipFile) Read(p []byte) (int, error) { return g.gz.Read(p) }

func (g *gzipFile) Close() error {
	gerr := g.gz.Close()
	ferr := g.f.Close()
	if gerr != nil {
		return gerr
	}
	return ferr
}

func matchMagic(ext string, head []byte) bool {
	switch ext {
	case ".jpg", ".jpeg":
		return len(head) >= 3 && head[0] == 0xFF && head[1] == 0xD8 && head[2] == 0xFF
	case ".png":
		return len(head) >= 8 && bytes.Equal(head[:8], []byte{0x89, 0x50, 0x4E, 0x47, 0x0D, 0x0A, 0x1A, 0x0A})
	case ".gif":
		return len(head) >= 6 && (bytes.Equal(head[:6], []byte("GIF87a")) || bytes.Equal(head[:6], []byte("GIF89a")))
	case ".webp":
		return len(head) >= 12 && bytes.Equal(head[8:12], []byte("WEBP"))
	case ".heic":
		return len(head) >= 12 && bytes.Equal(head[4:8], []byte("ftyp")) && (bytes.Equal(head[8:12], []byte("heic")) || bytes.Equal(head[8:12], []byte("heix")) || bytes.Equal(head[8:12], []byte("mif1")))
	case ".pdf":
		return len(head) >= 5 && bytes.Equal(head[:5], []byte("%PDF-"))
	case ".doc":
		return len(head) >= 8 && head[0] == 0xD0 && head[1] == 0xCF && head[2] == 0x11 && head[3] == 0xE0
	case ".docx":
		return len(head) >= 4 && head[0] == 0x50 && head[1] == 0x4B && (head[2] == 0x03 || head[2] == 0x05) && head[3] == 0x04
	}
	return true
}

func contentTypeByExt(ext string) string {
	switch ext {
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".png":
		return "image/png"
	case ".gif":
		return "image/gif"
	case ".webp":
		return "image/webp"
	case ".heic":
		return "image/heic"
	case ".pdf":
		return "application/pdf"
	case ".doc":
		return "application/msword"
	case ".docx":
		return "application/vnd.openxmlformats-officedocument.wordprocessingml.document"
	case ".txt":
		return "text/plain"
	case ".mp4":
		return "video/mp4"
	case ".mp3":
		return "audio/mpeg"
	case ".zip":
		return "application/zip"
	}
	return "application/octet-stream"
}

// displayName keeps only the safe, printable base of the original filename,
// falling back to the generated id.
func displayName(filename, fallback string) string {
	name := strings.TrimSpace(filepath.Base(filename))
	var b strings.Builder
	for _, r := range name {
		switch r {
		case '\r', '\n', '"', '\\', '/', '\x00':
			continue
		}
		if unicode.IsPrint(r) {
			b.WriteRune(r)
		}
	}
	name = strings.TrimSpace(b.String())
	if name == "" || name == "." {
		return fallback
	}
	return name
}
