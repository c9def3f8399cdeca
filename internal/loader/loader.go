// Package loader turns a filesystem path (file or directory) or an HTTP(S)
// URL into raw text blocks per source. Format parsing is delegated to
// external libraries: golang.org/x/net/html for markup and ledongthuc/pdf
// for page-oriented documents. Everything else is read as UTF-8 text.
package loader

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/54b3r/docrag-go/internal/rag"
)

// Document is the raw text of one source split into blocks. Blocks are
// paragraphs, markup block elements, or PDF pages depending on format.
type Document struct {
	// Source identifies the document (file path or URL).
	Source string
	// Blocks holds the extracted text blocks in document order.
	Blocks []string
}

// Text joins the blocks with blank lines so the chunker sees each block as
// at least one paragraph.
func (d Document) Text() string {
	return strings.Join(d.Blocks, "\n\n")
}

// DefaultInclude matches every format the loader understands.
var DefaultInclude = []string{
	"**/*.txt", "**/*.text", "**/*.md", "**/*.markdown", "**/*.rst",
	"**/*.html", "**/*.htm", "**/*.pdf",
}

// DefaultExclude skips VCS metadata and dependency trees.
var DefaultExclude = []string{
	"**/.git/**", "**/node_modules/**", "**/.docrag/**",
}

// Options configures a Loader.
type Options struct {
	// Include lists doublestar globs a file must match (relative to the
	// walked root). Empty means DefaultInclude.
	Include []string `yaml:"include"`
	// Exclude lists doublestar globs that skip a file or directory.
	// Empty means DefaultExclude.
	Exclude []string `yaml:"exclude"`
	// MaxFileBytes skips files larger than this. Zero means 50 MiB.
	MaxFileBytes int64 `yaml:"max_file_bytes"`
	// HTTPTimeout bounds each URL fetch. Zero means 30s.
	HTTPTimeout time.Duration `yaml:"http_timeout"`
	// UserAgent is sent with URL fetches.
	UserAgent string `yaml:"user_agent"`
}

// Loader reads documents. It is stateless apart from its HTTP client and is
// safe for concurrent use.
type Loader struct {
	opts   Options
	log    *slog.Logger
	client *http.Client
}

// New returns a Loader. A nil logger uses slog.Default.
func New(opts Options, log *slog.Logger) *Loader {
	if len(opts.Include) == 0 {
		opts.Include = DefaultInclude
	}
	if len(opts.Exclude) == 0 {
		opts.Exclude = DefaultExclude
	}
	if opts.MaxFileBytes <= 0 {
		opts.MaxFileBytes = 50 << 20
	}
	if opts.HTTPTimeout <= 0 {
		opts.HTTPTimeout = 30 * time.Second
	}
	if opts.UserAgent == "" {
		opts.UserAgent = "docrag/1.0 (document ingestion)"
	}
	if log == nil {
		log = slog.Default()
	}
	return &Loader{opts: opts, log: log, client: &http.Client{Timeout: opts.HTTPTimeout}}
}

// Load reads path. A file is loaded regardless of the include globs; a
// directory is walked in lexical order and every matching file is loaded.
// Unreadable files inside a directory are logged and skipped; an unreadable
// top-level file is a user error. Documents with no text are dropped.
func (l *Loader) Load(ctx context.Context, path string) ([]Document, error) {
	if strings.HasPrefix(path, "http://") || strings.HasPrefix(path, "https://") {
		doc, err := l.fetch(ctx, path)
		if err != nil {
			return nil, err
		}
		return nonEmpty([]Document{doc}), nil
	}

	info, err := os.Stat(path)
	if err != nil {
		return nil, rag.E(rag.KindUser, "loader: stat", err)
	}
	if !info.IsDir() {
		doc, err := l.loadFile(path)
		if err != nil {
			return nil, rag.E(rag.KindUser, "loader: load "+path, err)
		}
		return nonEmpty([]Document{doc}), nil
	}

	realRoot, err := resolvePath(path)
	if err != nil {
		return nil, rag.E(rag.KindUser, "loader: resolve", err)
	}

	var docs []Document
	err = filepath.WalkDir(path, func(p string, d fs.DirEntry, walkErr error) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		if walkErr != nil {
			l.log.Warn("loader: skipping unreadable entry", slog.String("path", p), slog.String("error", walkErr.Error()))
			if d != nil && d.IsDir() {
				return fs.SkipDir
			}
			return nil
		}
		rel, err := filepath.Rel(path, p)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)
		if rel == "." {
			return nil
		}
		if d.IsDir() {
			if matchAny(l.opts.Exclude, rel+"/") {
				return fs.SkipDir
			}
			return nil
		}
		if matchAny(l.opts.Exclude, rel) || !matchAny(l.opts.Include, rel) {
			return nil
		}
		if d.Type()&fs.ModeSymlink != 0 && !Within(realRoot, p) {
			l.log.Warn("loader: skipping symlink that leaves the walk root", slog.String("path", p))
			return nil
		}
		doc, err := l.loadFile(p)
		if err != nil {
			l.log.Warn("loader: skipping file", slog.String("path", p), slog.String("error", err.Error()))
			return nil
		}
		docs = append(docs, doc)
		return nil
	})
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, rag.Classify("loader: walk", err)
		}
		return nil, rag.E(rag.KindUser, "loader: walk", err)
	}
	return nonEmpty(docs), nil
}

// Matches reports whether a directory walk of root would load path.
func (l *Loader) Matches(root, path string) bool {
	rel, err := filepath.Rel(root, path)
	if err != nil || rel == "." || strings.HasPrefix(rel, "..") {
		return false
	}
	rel = filepath.ToSlash(rel)
	return !matchAny(l.opts.Exclude, rel) && matchAny(l.opts.Include, rel)
}

// Excluded reports whether the directory dir under root is skipped by a walk.
func (l *Loader) Excluded(root, dir string) bool {
	rel, err := filepath.Rel(root, dir)
	if err != nil || rel == "." {
		return false
	}
	return matchAny(l.opts.Exclude, filepath.ToSlash(rel)+"/")
}

// Within reports whether path, after resolving symlinks, lies inside root.
// Components that do not exist yet are kept as written.
func Within(root, path string) bool {
	r, err := resolvePath(root)
	if err != nil {
		return false
	}
	p, err := resolvePath(path)
	if err != nil {
		return false
	}
	rel, err := filepath.Rel(r, p)
	return err == nil && rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

// resolvePath returns the absolute path with symlinks evaluated for the
// longest prefix that exists.
func resolvePath(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", err
	}
	resolved, err := filepath.EvalSymlinks(abs)
	if err == nil {
		return resolved, nil
	}
	if !errors.Is(err, fs.ErrNotExist) {
		return "", err
	}
	parent := filepath.Dir(abs)
	if parent == abs {
		return abs, nil
	}
	dir, err := resolvePath(parent)
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, filepath.Base(abs)), nil
}

// matchAny reports whether name matches any glob. A pattern ending in
// "/**" also matches the directory itself when name ends in "/".
func matchAny(patterns []string, name string) bool {
	for _, pat := range patterns {
		if ok, _ := doublestar.Match(pat, name); ok {
			return true
		}
		if strings.HasSuffix(name, "/") {
			if ok, _ := doublestar.Match(pat, name+"x"); ok {
				return true
			}
		}
	}
	return false
}

func (l *Loader) loadFile(path string) (Document, error) {
	info, err := os.Stat(path)
	if err != nil {
		return Document{}, err
	}
	if info.Size() > l.opts.MaxFileBytes {
		return Document{}, fmt.Errorf("file is %d bytes, limit is %d", info.Size(), l.opts.MaxFileBytes)
	}

	var blocks []string
	switch strings.ToLower(filepath.Ext(path)) {
	case ".pdf":
		blocks, err = pdfBlocks(path)
	case ".html", ".htm":
		f, openErr := os.Open(path)
		if openErr != nil {
			return Document{}, openErr
		}
		defer f.Close()
		blocks, err = htmlBlocks(f)
	default:
		raw, readErr := os.ReadFile(path)
		if readErr != nil {
			return Document{}, readErr
		}
		blocks = textBlocks(string(raw))
	}
	if err != nil {
		return Document{}, err
	}
	return Document{Source: path, Blocks: blocks}, nil
}

// fetch retrieves a URL and extracts its text by content type.
func (l *Loader) fetch(ctx context.Context, url string) (Document, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return Document{}, rag.E(rag.KindUser, "loader: fetch", err)
	}
	req.Header.Set("User-Agent", l.opts.UserAgent)
	req.Header.Set("Accept", "text/plain, text/markdown, text/html")

	resp, err := l.client.Do(req)
	if err != nil {
		return Document{}, rag.Classify("loader: fetch "+url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Document{}, rag.Errorf(rag.KindUser, "loader: fetch", "unexpected status %d for %s", resp.StatusCode, url)
	}

	raw, err := io.ReadAll(io.LimitReader(resp.Body, l.opts.MaxFileBytes+1))
	if err != nil {
		return Document{}, rag.Classify("loader: read "+url, err)
	}
	if int64(len(raw)) > l.opts.MaxFileBytes {
		return Document{}, rag.Errorf(rag.KindUser, "loader: fetch", "%s is larger than the %d byte limit", url, l.opts.MaxFileBytes)
	}

	var blocks []string
	if strings.Contains(resp.Header.Get("Content-Type"), "html") {
		blocks, err = htmlBlocks(bytes.NewReader(raw))
		if err != nil {
			return Document{}, rag.E(rag.KindProvider, "loader: parse "+url, err)
		}
	} else {
		blocks = textBlocks(string(raw))
	}
	return Document{Source: url, Blocks: blocks}, nil
}

// textBlocks returns the whole text as a single block; paragraph splitting
// is the chunker's job. Invalid UTF-8 becomes U+FFFD.
func textBlocks(s string) []string {
	s = strings.ToValidUTF8(s, "\uFFFD")
	s = strings.TrimSpace(strings.ReplaceAll(s, "\r\n", "\n"))
	if s == "" {
		return nil
	}
	return []string{s}
}

func nonEmpty(docs []Document) []Document {
	return slices.DeleteFunc(docs, func(d Document) bool {
		return strings.TrimSpace(d.Text()) == ""
	})
}
