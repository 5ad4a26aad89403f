package epub

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/ledongthuc/pdf"
	"github.com/nguyenthenguyen/docx"
	"github.com/rs/zerolog/log"

	"book-rag/internal/helper"
	"book-rag/internal/models"
)

// extractPDF treats each page as one chapter so chunk provenance can point
// back at a page. Pages that fail text extraction are skipped, not fatal.
func extractPDF(filePath string, extractedAt time.Time) (*models.Book, error) {
	f, err := os.Open(filePath)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	stat, err := f.Stat()
	if err != nil {
		return nil, err
	}
	reader, err := pdf.NewReader(f, stat.Size())
	if err != nil {
		return nil, fmt.Errorf("open pdf: %w", err)
	}

	title := bookTitleFromPath(filePath)
	book := &models.Book{
		Slug:        helper.Slugify(title),
		Title:       title,
		SourcePath:  filePath,
		ExtractedAt: extractedAt,
	}

	numPages := reader.NumPage()
	for i := 1; i <= numPages; i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		pageText, err := page.GetPlainText(nil)
		if err != nil {
			log.Warn().Err(err).Int("page", i).Msg("Page extraction failed, skipping")
			continue
		}
		if strings.TrimSpace(pageText) == "" {
			continue
		}
		book.Chapters = append(book.Chapters, models.Chapter{
			Order: i,
			ID:    fmt.Sprintf("page-%04d", i),
			Title: fmt.Sprintf("Page %d", i),
			Text:  pageText,
		})
	}
	return book, nil
}

func extractDOCX(filePath string, extractedAt time.Time) (*models.Book, error) {
	r, err := docx.ReadDocxFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("open docx: %w", err)
	}
	defer r.Close()

	content := r.Editable().GetContent()
	text := docxToText(content)

	title := bookTitleFromPath(filePath)
	book := &models.Book{
		Slug:        helper.Slugify(title),
		Title:       title,
		SourcePath:  filePath,
		ExtractedAt: extractedAt,
	}
	if strings.TrimSpace(text) != "" {
		book.Chapters = append(book.Chapters, models.Chapter{
			Order: 1,
			ID:    "body",
			Title: title,
			Text:  text,
		})
	}
	return book, nil
}

// docxToText pulls the <w:t> runs out of the document XML, one paragraph per
// <w:p> element.
func docxToText(content string) string {
	var b strings.Builder
	for _, para := range strings.Split(content, "<w:p") {
		var line strings.Builder
		rest := para
		for {
			start := strings.Index(rest, "<w:t")
			if start < 0 {
				break
			}
			rest = rest[start:]
			// skip lookalikes such as <w:tab> and <w:tc>
			if len(rest) > 4 && rest[4] != '>' && rest[4] != ' ' && rest[4] != '/' {
				rest = rest[4:]
				continue
			}
			open := strings.Index(rest, ">")
			if open < 0 {
				break
			}
			rest = rest[open+1:]
			end := strings.Index(rest, "</w:t>")
			if end < 0 {
				break
			}
			line.WriteString(rest[:end])
			rest = rest[end:]
		}
		if s := strings.TrimSpace(line.String()); s != "" {
			b.WriteString(s)
			b.WriteString("\n\n")
		}
	}
	return strings.TrimSpace(b.String())
}

func extractPlainText(filePath string, extractedAt time.Time) (*models.Book, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, err
	}

	title := bookTitleFromPath(filePath)
	book := &models.Book{
		Slug:        helper.Slugify(title),
		Title:       title,
		SourcePath:  filePath,
		ExtractedAt: extractedAt,
	}
	if strings.TrimSpace(string(data)) != "" {
		book.Chapters = append(book.Chapters, models.Chapter{
			Order: 1,
			ID:    "text",
			Title: title,
			Text:  string(data),
		})
	}
	return book, nil
}
