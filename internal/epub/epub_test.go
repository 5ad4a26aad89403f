package epub

import (
	"archive/zip"
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testOPF = `<?xml version="1.0" encoding="UTF-8"?>
<package xmlns="http://www.idpf.org/2007/opf" xmlns:dc="http://purl.org/dc/elements/1.1/" version="3.0">
  <metadata>
    <dc:title>The Test Voyage</dc:title>
    <dc:creator>Ada Writer</dc:creator>
    <dc:language>en</dc:language>
    <dc:publisher>Test House</dc:publisher>
    <dc:identifier>urn:isbn:9781234567890</dc:identifier>
  </metadata>
  <manifest>
    <item id="ch1" href="ch1.xhtml" media-type="application/xhtml+xml"/>
    <item id="ch2" href="ch2.xhtml" media-type="application/xhtml+xml"/>
    <item id="ghost" href="missing.xhtml" media-type="application/xhtml+xml"/>
    <item id="css" href="style.css" media-type="text/css"/>
  </manifest>
  <spine>
    <itemref idref="ch1"/>
    <itemref idref="ghost"/>
    <itemref idref="ch2"/>
    <itemref idref="css"/>
  </spine>
</package>`

const testChapter1 = `<html><head><title>Loomings</title></head><body>
<h1>Loomings</h1>
<p>Call me Ishmael.</p>
<p>Some years ago, never mind how long precisely.</p>
</body></html>`

const testChapter2 = `<html><head><title>The Carpet-Bag</title></head><body>
<p>I stuffed a shirt or two into my old carpet-bag.</p>
</body></html>`

func writeTestEPUB(t *testing.T, dir string) string {
	t.Helper()

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	entries := map[string]string{
		"mimetype":               "application/epub+zip",
		"META-INF/container.xml": `<?xml version="1.0"?><container version="1.0" xmlns="urn:oasis:names:tc:opendocument:xmlns:container"><rootfiles><rootfile full-path="OEBPS/content.opf" media-type="application/oebps-package+xml"/></rootfiles></container>`,
		"OEBPS/content.opf":      testOPF,
		"OEBPS/ch1.xhtml":        testChapter1,
		"OEBPS/ch2.xhtml":        testChapter2,
		"OEBPS/style.css":        "p { margin: 0 }",
	}
	for name, body := range entries {
		w, err := zw.Create(name)
		require.NoError(t, err)
		_, err = w.Write([]byte(body))
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())

	path := filepath.Join(dir, "test-voyage.epub")
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o644))
	return path
}

func TestExtractEPUB(t *testing.T) {
	path := writeTestEPUB(t, t.TempDir())
	extractedAt := time.Now().UTC()

	book, err := ExtractBook(path, extractedAt)
	require.NoError(t, err)

	assert.Equal(t, "The Test Voyage", book.Title)
	assert.Equal(t, "the-test-voyage", book.Slug)
	assert.Equal(t, "Ada Writer", book.Author)
	assert.Equal(t, "en", book.Language)
	assert.Equal(t, "Test House", book.Publisher)
	assert.Equal(t, "9781234567890", book.ISBN)
	assert.Equal(t, path, book.SourcePath)
	assert.True(t, book.ExtractedAt.Equal(extractedAt))

	// the missing spine file and the css item are skipped, the rest survive
	require.Len(t, book.Chapters, 2)

	ch1 := book.Chapters[0]
	assert.Equal(t, 1, ch1.Order)
	assert.Equal(t, "ch1", ch1.ID)
	assert.Equal(t, "Loomings", ch1.Title)
	assert.Equal(t, "OEBPS/ch1.xhtml", ch1.File)
	assert.Contains(t, ch1.Text, "Call me Ishmael.")
	assert.Contains(t, ch1.Text, "never mind how long precisely")

	ch2 := book.Chapters[1]
	assert.Equal(t, 3, ch2.Order)
	assert.Equal(t, "The Carpet-Bag", ch2.Title)
	assert.Contains(t, ch2.Text, "carpet-bag")
}

func TestExtractBookUnsupportedFormat(t *testing.T) {
	_, err := ExtractBook("book.mobi", time.Now())
	require.Error(t, err)
}

func TestExtractBookMissingFile(t *testing.T) {
	_, err := ExtractBook(filepath.Join(t.TempDir(), "nope.epub"), time.Now())
	require.Error(t, err)
}

func TestExtractPlainText(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "small_book.txt")
	require.NoError(t, os.WriteFile(path, []byte("First paragraph.\n\nSecond paragraph.\n"), 0o644))

	book, err := ExtractBook(path, time.Now())
	require.NoError(t, err)
	assert.Equal(t, "small book", book.Title)
	assert.Equal(t, "small-book", book.Slug)
	require.Len(t, book.Chapters, 1)
	assert.Contains(t, book.Chapters[0].Text, "Second paragraph.")
}

func TestExtractPlainTextEmpty(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "empty.txt")
	require.NoError(t, os.WriteFile(path, []byte("  \n \n"), 0o644))

	book, err := ExtractBook(path, time.Now())
	require.NoError(t, err)
	assert.Empty(t, book.Chapters)
}

func TestChapterFromHTMLFallsBackToHeading(t *testing.T) {
	title, text, err := chapterFromHTML([]byte(`<html><body><h2>Chapter II</h2><p>Body text here.</p></body></html>`))
	require.NoError(t, err)
	assert.Equal(t, "Chapter II", title)
	assert.Contains(t, text, "Body text here.")
}

func TestDocxToText(t *testing.T) {
	content := `<w:document><w:body><w:p><w:r><w:t>Hello</w:t></w:r><w:r><w:t xml:space="preserve"> world</w:t></w:r></w:p><w:p><w:r><w:t>Second</w:t></w:r></w:p></w:body></w:document>`
	got := docxToText(content)
	assert.Equal(t, "Hello world\n\nSecond", got)
}
