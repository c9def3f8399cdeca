package loader

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/54b3r/docrag-go/internal/rag"
)

func writeFile(t *testing.T, dir, rel, content string) string {
	t.Helper()
	p := filepath.Join(dir, filepath.FromSlash(rel))
	require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
	require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
	return p
}

func sources(docs []Document) []string {
	out := make([]string, len(docs))
	for i, d := range docs {
		out[i] = filepath.ToSlash(d.Source)
	}
	return out
}

func TestLoad_Directory(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	writeFile(t, dir, "b.md", "# Title\n\nBody text.")
	writeFile(t, dir, "a.txt", "St Andrews is in Fife, Scotland.")
	writeFile(t, dir, "nested/c.txt", "nested")
	writeFile(t, dir, "empty.txt", "   \n\n ")
	writeFile(t, dir, "image.png", "\x89PNG")
	writeFile(t, dir, ".git/HEAD.txt", "ref: refs/heads/main")
	writeFile(t, dir, "broken.pdf", "not a pdf")

	docs, err := New(Options{}, nil).Load(context.Background(), dir)
	require.NoError(t, err)

	want := []string{
		filepath.ToSlash(filepath.Join(dir, "a.txt")),
		filepath.ToSlash(filepath.Join(dir, "b.md")),
		filepath.ToSlash(filepath.Join(dir, "nested", "c.txt")),
	}
	assert.Equal(t, want, sources(docs))
	assert.Equal(t, "St Andrews is in Fife, Scotland.", docs[0].Text())
}

func TestLoad_IncludeExclude(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	writeFile(t, dir, "docs/guide.md", "guide")
	writeFile(t, dir, "docs/draft/wip.md", "wip")
	writeFile(t, dir, "notes.txt", "notes")

	l := New(Options{Include: []string{"docs/**/*.md"}, Exclude: []string{"**/draft/**"}}, nil)
	docs, err := l.Load(context.Background(), dir)
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.True(t, strings.HasSuffix(filepath.ToSlash(docs[0].Source), "docs/guide.md"))
}

func TestLoad_SingleFileIgnoresIncludeGlobs(t *testing.T) {
	t.Parallel()
	p := writeFile(t, t.TempDir(), "notes.log", "line one\n\nline two")
	docs, err := New(Options{}, nil).Load(context.Background(), p)
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, "line one\n\nline two", docs[0].Text())
}

func TestLoad_Errors(t *testing.T) {
	t.Parallel()
	l := New(Options{}, nil)
	ctx := context.Background()

	_, err := l.Load(ctx, filepath.Join(t.TempDir(), "missing"))
	assert.ErrorIs(t, err, rag.ErrUser)

	bad := writeFile(t, t.TempDir(), "broken.pdf", "not a pdf")
	_, err = l.Load(ctx, bad)
	assert.ErrorIs(t, err, rag.ErrUser)

	big := writeFile(t, t.TempDir(), "big.txt", strings.Repeat("x", 64))
	_, err = New(Options{MaxFileBytes: 10}, nil).Load(ctx, big)
	assert.ErrorIs(t, err, rag.ErrUser)
}

func TestHTMLBlocks(t *testing.T) {
	t.Parallel()
	const page = `<html><head><title>t</title><style>p{}</style></head>
<body><nav>menu</nav><h1>St Andrews</h1>
<p>A town in <b>Fife</b>,
   Scotland.</p><script>var x = 1;</script>
<ul><li>golf</li><li>university</li></ul></body></html>`

	blocks, err := htmlBlocks(strings.NewReader(page))
	require.NoError(t, err)
	assert.Equal(t, []string{"St Andrews", "A town in Fife , Scotland.", "golf", "university"}, blocks)
}

func TestLoad_URL(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/page":
			w.Header().Set("Content-Type", "text/html; charset=utf-8")
			_, _ = w.Write([]byte("<p>one</p><p>two</p>"))
		case "/plain":
			w.Header().Set("Content-Type", "text/plain")
			_, _ = w.Write([]byte("plain text"))
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)
	l := New(Options{}, nil)
	ctx := context.Background()

	docs, err := l.Load(ctx, srv.URL+"/page")
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, []string{"one", "two"}, docs[0].Blocks)

	docs, err = l.Load(ctx, srv.URL+"/plain")
	require.NoError(t, err)
	assert.Equal(t, "plain text", docs[0].Text())

	_, err = l.Load(ctx, srv.URL+"/missing")
	assert.ErrorIs(t, err, rag.ErrUser)
}

func TestMatchesAndExcluded(t *testing.T) {
	t.Parallel()
	root := filepath.Join("srv", "docs")
	l := New(Options{}, nil)

	assert.True(t, l.Matches(root, filepath.Join(root, "guide.md")))
	assert.True(t, l.Matches(root, filepath.Join(root, "a", "b", "manual.pdf")))
	assert.False(t, l.Matches(root, filepath.Join(root, "image.png")))
	assert.False(t, l.Matches(root, filepath.Join(root, ".git", "notes.txt")))
	assert.False(t, l.Matches(root, filepath.Join("srv", "other.txt")), "outside the root")

	assert.True(t, l.Excluded(root, filepath.Join(root, "node_modules")))
	assert.False(t, l.Excluded(root, filepath.Join(root, "nested")))
	assert.False(t, l.Excluded(root, root))
}

func TestLoad_DirectorySkipsSymlinksLeavingRoot(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	outside := writeFile(t, t.TempDir(), "secret.txt", "api keys")
	inside := writeFile(t, dir, "guide.md", "guide")
	if err := os.Symlink(outside, filepath.Join(dir, "notes.txt")); err != nil {
		t.Skipf("symlinks unavailable: %v", err)
	}
	require.NoError(t, os.Symlink(inside, filepath.Join(dir, "alias.md")))

	docs, err := New(Options{}, nil).Load(context.Background(), dir)
	require.NoError(t, err)
	assert.Equal(t, []string{
		filepath.ToSlash(filepath.Join(dir, "alias.md")),
		filepath.ToSlash(inside),
	}, sources(docs))
	for _, d := range docs {
		assert.NotContains(t, d.Text(), "api keys")
	}
}

func TestWithin(t *testing.T) {
	t.Parallel()
	root := t.TempDir()
	assert.True(t, Within(root, root))
	assert.True(t, Within(root, filepath.Join(root, "a", "b.txt")))
	assert.False(t, Within(root, filepath.Join(root, "..", "x.txt")))
	assert.False(t, Within(root, filepath.Dir(root)))
}

func TestLoad_URLOverLimitIsRejected(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		_, _ = w.Write([]byte(strings.Repeat("x", 64)))
	}))
	t.Cleanup(srv.Close)
	ctx := context.Background()

	_, err := New(Options{MaxFileBytes: 10}, nil).Load(ctx, srv.URL)
	require.Error(t, err)
	assert.ErrorIs(t, err, rag.ErrUser)

	docs, err := New(Options{MaxFileBytes: 64}, nil).Load(ctx, srv.URL)
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Len(t, docs[0].Text(), 64)
}

func TestLoad_InvalidUTF8IsReplaced(t *testing.T) {
	t.Parallel()
	p := writeFile(t, t.TempDir(), "menu.txt", "caf\xe9 menu")
	docs, err := New(Options{}, nil).Load(context.Background(), p)
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, "caf\uFFFD menu", docs[0].Text())

	blocks, err := htmlBlocks(strings.NewReader("<p>caf\xe9</p>"))
	require.NoError(t, err)
	for _, b := range blocks {
		assert.True(t, utf8.ValidString(b), "block %q", b)
	}
}
