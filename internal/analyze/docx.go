package analyze

import (
	"regexp"
	"strings"

	"github.com/gomutex/godocx"
	"github.com/gomutex/godocx/docx"
)

const (
	docxFont     = "Calibri"
	docxFontSize = 11
)

var (
	reHeading = regexp.MustCompile(`^(#{1,6})\s+(.+)$`)
	reBullet  = regexp.MustCompile(`^[\-\*]\s+(.+)$`)
	reOrdered = regexp.MustCompile(`^\d+\.\s+(.+)$`)
)

// ExportDocx renders a markdown-ish summary into a .docx document. The
// analysis output uses plain paragraphs, headings and bullets; that is
// all this supports.
func ExportDocx(title, body, outputPath string) error {
	doc, err := godocx.NewDocument()
	if err != nil {
		return err
	}

	addLine(doc.AddParagraph(""), title, true, 16)

	for _, line := range strings.Split(body, "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || strings.Trim(trimmed, "=-") == "" {
			continue
		}

		if m := reHeading.FindStringSubmatch(trimmed); m != nil {
			addLine(doc.AddParagraph(""), m[2], true, headingSize(len(m[1])))
			continue
		}
		if m := reBullet.FindStringSubmatch(trimmed); m != nil {
			addLine(doc.AddParagraph(""), "• "+m[1], false, docxFontSize)
			continue
		}
		if reOrdered.MatchString(trimmed) {
			addLine(doc.AddParagraph(""), trimmed, false, docxFontSize)
			continue
		}
		addLine(doc.AddParagraph(""), trimmed, false, docxFontSize)
	}

	return doc.SaveTo(outputPath)
}

func headingSize(level int) uint64 {
	switch level {
	case 1:
		return 15
	case 2:
		return 13
	default:
		return 12
	}
}

func addLine(p *docx.Paragraph, text string, bold bool, size uint64) {
	text = stripInlineMarkdown(text)
	run := p.AddText(text).Font(docxFont).Size(size).Color("000000")
	if bold {
		run.Bold(true)
	}
}

func stripInlineMarkdown(s string) string {
	s = strings.ReplaceAll(s, "**", "")
	s = strings.ReplaceAll(s, "__", "")
	s = strings.ReplaceAll(s, "`", "")
	return s
}
