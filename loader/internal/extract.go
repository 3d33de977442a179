package internal

import (
	"bytes"
	"errors"
	"fmt"
	"html"
	"path/filepath"
	"regexp"
	"strings"
	"unicode/utf8"

	"ragchat/types"

	"github.com/ledongthuc/pdf"
	"github.com/nguyenthenguyen/docx"
	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
	"github.com/xuri/excelize/v2"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/extension"
	east "github.com/yuin/goldmark/extension/ast"
	"github.com/yuin/goldmark/text"
)

var (
	ErrUnsupportedFormat = errors.New("unsupported file format")
	ErrNoText            = errors.New("document has no extractable text")
)

// Supported reports whether Extract knows how to read fileName.
func Supported(fileName string) bool {
	switch strings.ToLower(filepath.Ext(fileName)) {
	case ".pdf", ".docx", ".xlsx", ".md", ".txt":
		return true
	}
	return false
}

// Extract turns document bytes into plain UTF-8 text. Page boundaries are not preserved.
// Every failure is an *types.ExtractionError.
func Extract(fileName string, data []byte) (string, int, error) {
	var (
		out   string
		pages = 1
		err   error
	)
	switch strings.ToLower(filepath.Ext(fileName)) {
	case ".pdf":
		out, pages, err = extractPDF(data)
	case ".docx":
		out, err = extractDOCX(data)
	case ".xlsx":
		out, err = extractXLSX(data)
	case ".md":
		out, err = extractMarkdown(data)
	case ".txt":
		out, err = extractPlain(data)
	default:
		err = fmt.Errorf("%w: %s", ErrUnsupportedFormat, filepath.Ext(fileName))
	}
	if err == nil && strings.TrimSpace(out) == "" {
		err = ErrNoText
	}
	if err != nil {
		return "", 0, &types.ExtractionError{FileName: fileName, Err: err}
	}
	return out, pages, nil
}

func extractPDF(data []byte) (out string, pages int, err error) {
	conf := model.NewDefaultConfiguration()
	conf.ValidationMode = model.ValidationRelaxed
	if err := api.Validate(bytes.NewReader(data), conf); err != nil {
		return "", 0, fmt.Errorf("invalid pdf: %w", err)
	}

	// the reader panics on some malformed content streams
	defer func() {
		if r := recover(); r != nil {
			out, pages, err = "", 0, fmt.Errorf("pdf reader: %v", r)
		}
	}()

	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", 0, err
	}

	pages = reader.NumPage()
	texts := make([]string, 0, pages)
	for i := 1; i <= pages; i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		pageText, err := page.GetPlainText(nil)
		if err != nil {
			return "", 0, fmt.Errorf("page %d: %w", i, err)
		}
		texts = append(texts, pageText)
	}
	out = strings.Join(texts, "\n")
	if !utf8.ValidString(out) {
		out = strings.ToValidUTF8(out, "")
	}
	return out, pages, nil
}

var (
	docxParaEnd = regexp.MustCompile(`</w:p>`)
	docxTab     = regexp.MustCompile(`<w:tab/>`)
	xmlTag      = regexp.MustCompile(`<[^>]+>`)
)

func extractDOCX(data []byte) (string, error) {
	r, err := docx.ReadDocxFromMemory(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", err
	}
	defer r.Close()

	content := r.Editable().GetContent()
	content = docxParaEnd.ReplaceAllString(content, "\n")
	content = docxTab.ReplaceAllString(content, "  ")
	content = xmlTag.ReplaceAllString(content, "")
	return html.UnescapeString(content), nil
}

// extractXLSX renders every sheet row as cells separated by two spaces so the
// segmenter classifies numeric rows as table lines.
func extractXLSX(data []byte) (string, error) {
	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		return "", err
	}
	defer f.Close()

	var sb strings.Builder
	for _, sheet := range f.GetSheetList() {
		rows, err := f.GetRows(sheet)
		if err != nil {
			return "", fmt.Errorf("sheet %s: %w", sheet, err)
		}
		sb.WriteString(sheet)
		sb.WriteString("\n")
		for _, row := range rows {
			sb.WriteString(strings.Join(row, "  "))
			sb.WriteString("\n")
		}
	}
	return sb.String(), nil
}

var markdown = goldmark.New(goldmark.WithExtensions(extension.GFM))

// extractMarkdown walks the markdown AST and keeps only the text, one block per line.
// Table cells are joined with two spaces.
func extractMarkdown(data []byte) (string, error) {
	if !utf8.Valid(data) {
		return "", errors.New("markdown is not valid utf-8")
	}
	doc := markdown.Parser().Parse(text.NewReader(data))

	var sb strings.Builder
	err := ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		switch node := n.(type) {
		case *ast.Text:
			if entering {
				sb.Write(node.Segment.Value(data))
				if node.SoftLineBreak() || node.HardLineBreak() {
					sb.WriteString("\n")
				}
			}
			return ast.WalkContinue, nil
		case *ast.CodeBlock, *ast.FencedCodeBlock:
			if entering {
				lines := node.Lines()
				for i := 0; i < lines.Len(); i++ {
					seg := lines.At(i)
					sb.Write(seg.Value(data))
				}
			}
			return ast.WalkContinue, nil
		}
		if entering {
			return ast.WalkContinue, nil
		}
		switch n.Kind() {
		case east.KindTableCell:
			sb.WriteString("  ")
		case east.KindTableRow, east.KindTableHeader:
			sb.WriteString("\n")
		default:
			if n.Type() == ast.TypeBlock && n.Kind() != east.KindTable && n.Kind() != ast.KindDocument {
				sb.WriteString("\n")
			}
		}
		return ast.WalkContinue, nil
	})
	if err != nil {
		return "", err
	}
	return sb.String(), nil
}

func extractPlain(data []byte) (string, error) {
	if !utf8.Valid(data) {
		return "", errors.New("text is not valid utf-8")
	}
	return string(data), nil
}

// InferYear prefers a year in the file name, then the first one in the text.
func InferYear(fileName, content string) *int {
	if y := types.ExtractYear(filepath.Base(fileName)); y != nil {
		return y
	}
	return types.ExtractYear(content)
}
