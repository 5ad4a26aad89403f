package epub

import (
	"archive/zip"
	"encoding/xml"
	"fmt"
	"io"
	"net/url"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"book-rag/internal/helper"
	"book-rag/internal/models"
)

const containerPath = "META-INF/container.xml"

// ExtractBook reads a book file and returns its metadata plus chapter texts,
// dispatching on the file extension.
func ExtractBook(filePath string, extractedAt time.Time) (*models.Book, error) {
	ext := strings.ToLower(filepath.Ext(filePath))
	switch ext {
	case ".epub":
		return extractEPUB(filePath, extractedAt)
	case ".pdf":
		return extractPDF(filePath, extractedAt)
	case ".docx":
		return extractDOCX(filePath, extractedAt)
	case ".txt", ".md", ".markdown":
		return extractPlainText(filePath, extractedAt)
	default:
		return nil, fmt.Errorf("unsupported book format: %s", ext)
	}
}

type containerXML struct {
	Rootfiles []struct {
		FullPath string `xml:"full-path,attr"`
	} `xml:"rootfiles>rootfile"`
}

type opfPackage struct {
	Metadata struct {
		Titles      []string `xml:"title"`
		Creators    []string `xml:"creator"`
		Languages   []string `xml:"language"`
		Publishers  []string `xml:"publisher"`
		Identifiers []struct {
			Scheme string `xml:"scheme,attr"`
			Value  string `xml:",chardata"`
		} `xml:"identifier"`
	} `xml:"metadata"`
	Manifest struct {
		Items []struct {
			ID        string `xml:"id,attr"`
			Href      string `xml:"href,attr"`
			MediaType string `xml:"media-type,attr"`
		} `xml:"item"`
	} `xml:"manifest"`
	Spine struct {
		Itemrefs []struct {
			IDRef string `xml:"idref,attr"`
		} `xml:"itemref"`
	} `xml:"spine"`
}

// extractEPUB opens the EPUB container, reads its OPF package for metadata
// and reading order, and converts every spine document to structured text.
// Chapters whose file is missing from the archive are skipped with a warning.
func extractEPUB(filePath string, extractedAt time.Time) (*models.Book, error) {
	zr, err := zip.OpenReader(filePath)
	if err != nil {
		return nil, fmt.Errorf("open epub: %w", err)
	}
	defer zr.Close()

	files := make(map[string]*zip.File, len(zr.File))
	for _, f := range zr.File {
		files[f.Name] = f
	}

	data, err := readZipFile(files, containerPath)
	if err != nil {
		return nil, fmt.Errorf("read container.xml: %w", err)
	}
	var container containerXML
	if err := xml.Unmarshal(data, &container); err != nil {
		return nil, fmt.Errorf("parse container.xml: %w", err)
	}
	if len(container.Rootfiles) == 0 {
		return nil, fmt.Errorf("epub container has no rootfile")
	}
	opfPath := container.Rootfiles[0].FullPath

	data, err = readZipFile(files, opfPath)
	if err != nil {
		return nil, fmt.Errorf("read opf package: %w", err)
	}
	var pkg opfPackage
	if err := xml.Unmarshal(data, &pkg); err != nil {
		return nil, fmt.Errorf("parse opf package: %w", err)
	}

	book := bookFromMetadata(&pkg, filePath, extractedAt)

	manifest := make(map[string]struct{ href, mediaType string }, len(pkg.Manifest.Items))
	for _, item := range pkg.Manifest.Items {
		manifest[item.ID] = struct{ href, mediaType string }{item.Href, item.MediaType}
	}

	opfDir := path.Dir(opfPath)
	for i, ref := range pkg.Spine.Itemrefs {
		item, ok := manifest[ref.IDRef]
		if !ok {
			log.Warn().Str("idref", ref.IDRef).Msg("Spine item missing from manifest, skipping")
			continue
		}
		if !strings.Contains(item.mediaType, "html") {
			continue
		}

		href := item.href
		if unescaped, err := url.PathUnescape(href); err == nil {
			href = unescaped
		}
		full := href
		if opfDir != "." {
			full = path.Join(opfDir, href)
		}

		data, err := readZipFile(files, full)
		if err != nil {
			log.Warn().Err(err).Str("file", full).Msg("Chapter file missing, skipping")
			continue
		}

		title, text, err := chapterFromHTML(data)
		if err != nil {
			log.Warn().Err(err).Str("file", full).Msg("Chapter conversion failed, skipping")
			continue
		}
		if title == "" {
			title = ref.IDRef
		}

		book.Chapters = append(book.Chapters, models.Chapter{
			Order: i + 1,
			ID:    ref.IDRef,
			Title: title,
			File:  full,
			Href:  item.href,
			Text:  text,
		})
	}

	return book, nil
}

func bookFromMetadata(pkg *opfPackage, filePath string, extractedAt time.Time) *models.Book {
	md := pkg.Metadata
	book := &models.Book{
		SourcePath:  filePath,
		ExtractedAt: extractedAt,
	}
	if len(md.Titles) > 0 {
		book.Title = strings.TrimSpace(md.Titles[0])
	}
	if book.Title == "" {
		book.Title = bookTitleFromPath(filePath)
	}
	if len(md.Creators) > 0 {
		book.Author = strings.TrimSpace(md.Creators[0])
	}
	if len(md.Languages) > 0 {
		book.Language = strings.TrimSpace(md.Languages[0])
	}
	if len(md.Publishers) > 0 {
		book.Publisher = strings.TrimSpace(md.Publishers[0])
	}
	book.ISBN = findISBN(pkg)
	book.Slug = helper.Slugify(book.Title)
	return book
}

func findISBN(pkg *opfPackage) string {
	for _, id := range pkg.Metadata.Identifiers {
		if strings.EqualFold(id.Scheme, "isbn") {
			return strings.TrimSpace(id.Value)
		}
	}
	for _, id := range pkg.Metadata.Identifiers {
		v := strings.TrimSpace(id.Value)
		if rest, ok := cutPrefixFold(v, "urn:isbn:"); ok {
			return rest
		}
	}
	return ""
}

func cutPrefixFold(s, prefix string) (string, bool) {
	if len(s) >= len(prefix) && strings.EqualFold(s[:len(prefix)], prefix) {
		return s[len(prefix):], true
	}
	return s, false
}

func readZipFile(files map[string]*zip.File, name string) ([]byte, error) {
	zf, ok := files[name]
	if !ok {
		return nil, fmt.Errorf("file %q not in archive", name)
	}
	rc, err := zf.Open()
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return io.ReadAll(rc)
}

// bookTitleFromPath falls back to the file name when a format carries no
// embedded title metadata.
func bookTitleFromPath(filePath string) string {
	base := filepath.Base(filePath)
	base = strings.TrimSuffix(base, filepath.Ext(base))
	base = strings.NewReplacer("_", " ", "-", " ").Replace(base)
	return strings.TrimSpace(base)
}
