package loader

import (
	"archive/zip"
	"bytes"
	"fmt"
	"io"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

const (
	contentTypesPath    = "[Content_Types].xml"
	docxDefaultPath     = "word/document.xml"
	docxMainContentType = "application/vnd.openxmlformats-officedocument.wordprocessingml.document.main+xml"
	pptxSlidePrefix     = "ppt/slides/slide"
)

var (
	// Paragraph patterns match <w:p ...> but not <w:pPr>.
	wParagraph = regexp.MustCompile(`(?s)<w:p(?:\s[^>]*)?>(.*?)</w:p>`)
	wText      = regexp.MustCompile(`<w:t(?:\s[^>]*)?>([^<]*)</w:t>`)
	aParagraph = regexp.MustCompile(`(?s)<a:p(?:\s[^>]*)?>(.*?)</a:p>`)
	aText      = regexp.MustCompile(`<a:t(?:\s[^>]*)?>([^<]*)</a:t>`)
	slideNum   = regexp.MustCompile(`slide(\d+)\.xml$`)

	mainPartName = regexp.MustCompile(`<Override[^>]+PartName="([^"]+)"[^>]+ContentType="` + regexp.QuoteMeta(docxMainContentType) + `"`)
	mainPartRev  = regexp.MustCompile(`<Override[^>]+ContentType="` + regexp.QuoteMeta(docxMainContentType) + `"[^>]+PartName="([^"]+)"`)
)

func openZip(content []byte, format string) (*zip.Reader, error) {
	zr, err := zip.NewReader(bytes.NewReader(content), int64(len(content)))
	if err != nil {
		return nil, fmt.Errorf("extract %s: not a zip: %w", format, err)
	}
	return zr, nil
}

func readPart(f *zip.File) (string, error) {
	rc, err := f.Open()
	if err != nil {
		return "", fmt.Errorf("open %s: %w", f.Name, err)
	}
	defer rc.Close()
	data, err := io.ReadAll(rc)
	if err != nil {
		return "", fmt.Errorf("read %s: %w", f.Name, err)
	}
	return string(data), nil
}

// paragraphs joins the runs of each paragraph match with spaces and drops empty paragraphs.
func paragraphs(xml string, para, run *regexp.Regexp) []string {
	var out []string
	for _, p := range para.FindAllStringSubmatch(xml, -1) {
		var words []string
		for _, r := range run.FindAllStringSubmatch(p[1], -1) {
			if s := strings.TrimSpace(r[1]); s != "" {
				words = append(words, s)
			}
		}
		if len(words) > 0 {
			out = append(out, strings.Join(words, " "))
		}
	}
	return out
}

// docxMainPath reads the main document part name from [Content_Types].xml.
func docxMainPath(zr *zip.Reader) string {
	for _, f := range zr.File {
		if f.Name != contentTypesPath {
			continue
		}
		ct, err := readPart(f)
		if err != nil {
			return ""
		}
		if m := mainPartName.FindStringSubmatch(ct); len(m) > 1 {
			return strings.TrimPrefix(m[1], "/")
		}
		if m := mainPartRev.FindStringSubmatch(ct); len(m) > 1 {
			return strings.TrimPrefix(m[1], "/")
		}
		return ""
	}
	return ""
}

// docxText extracts paragraph text from a .docx package, one paragraph per block.
func docxText(content []byte) (string, error) {
	zr, err := openZip(content, "DOCX")
	if err != nil {
		return "", err
	}
	path := docxMainPath(zr)
	if path == "" {
		path = docxDefaultPath
	}
	for _, f := range zr.File {
		if f.Name != path {
			continue
		}
		body, err := readPart(f)
		if err != nil {
			return "", fmt.Errorf("extract DOCX: %w", err)
		}
		return strings.Join(paragraphs(body, wParagraph, wText), "\n\n"), nil
	}
	return "", fmt.Errorf("extract DOCX: %s not found", path)
}

// pptxText extracts slide text in slide order; each slide becomes one block.
func pptxText(content []byte) (string, error) {
	zr, err := openZip(content, "PPTX")
	if err != nil {
		return "", err
	}
	type slide struct {
		n    int
		text string
	}
	var slides []slide
	for _, f := range zr.File {
		m := slideNum.FindStringSubmatch(f.Name)
		if !strings.HasPrefix(f.Name, pptxSlidePrefix) || m == nil {
			continue
		}
		body, err := readPart(f)
		if err != nil {
			return "", fmt.Errorf("extract PPTX: %w", err)
		}
		n, _ := strconv.Atoi(m[1])
		if text := strings.Join(paragraphs(body, aParagraph, aText), "\n"); text != "" {
			slides = append(slides, slide{n: n, text: text})
		}
	}
	sort.Slice(slides, func(i, j int) bool { return slides[i].n < slides[j].n })
	blocks := make([]string, len(slides))
	for i, s := range slides {
		blocks[i] = s.text
	}
	return strings.Join(blocks, "\n\n"), nil
}
