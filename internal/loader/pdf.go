package loader

import (
	"fmt"
	"strings"

	"github.com/ledongthuc/pdf"
)

// pdfBlocks extracts the plain text of every page, one block per page.
// Pages without extractable text are skipped.
func pdfBlocks(path string) ([]string, error) {
	f, r, err := pdf.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open pdf: %w", err)
	}
	defer f.Close()

	var blocks []string
	for i := 1; i <= r.NumPage(); i++ {
		p := r.Page(i)
		if p.V.IsNull() {
			continue
		}
		text, err := p.GetPlainText(nil)
		if err != nil {
			return nil, fmt.Errorf("page %d: %w", i, err)
		}
		if t := strings.TrimSpace(text); t != "" {
			blocks = append(blocks, t)
		}
	}
	return blocks, nil
}
