package diagnosis

import "strings"

// sectionMarker opens the ranked-diagnoses section of the analysis prompt.
const sectionMarker = "2)"

// Extract returns the leading candidate diagnosis from a model analysis.
//
// It looks for the first line that starts the ranked-diagnoses section and
// takes the first non-empty line after it. The label is whatever comes before
// the first colon, with list numbering, bullets and Markdown emphasis removed.
// ok is false when no usable label exists.
func Extract(analysis string) (label string, ok bool) {
	if strings.TrimSpace(analysis) == "" {
		return "", false
	}

	lines := strings.Split(analysis, "\n")
	for i, ln := range lines {
		if !strings.HasPrefix(trimMarkup(ln), sectionMarker) {
			continue
		}
		for _, cand := range lines[i+1:] {
			if strings.TrimSpace(cand) == "" {
				continue
			}
			label = cleanLabel(cand)
			return label, label != ""
		}
		return "", false
	}
	return "", false
}

// trimMarkup drops whitespace and leading Markdown heading/emphasis characters.
func trimMarkup(s string) string {
	return strings.TrimLeft(strings.TrimSpace(s), "*#_ \t")
}

func cleanLabel(line string) string {
	head, _, _ := strings.Cut(line, ":")
	head = strings.TrimSpace(head)
	head = strings.TrimLeft(head, "0123456789).-•*#_ \t")
	head = strings.TrimRight(head, "*_ \t")
	return strings.TrimSpace(head)
}
