package report

import (
	"fmt"
	"strconv"
	"strings"

	"gendoc/internal/consultation"
)

const (
	Title    = "GenDoc Medical Report"
	FileName = "gendoc_report.pdf"

	headingPatient  = "Patient Information"
	headingFindings = "Findings & Recommendations"
	headingNearby   = "Nearby Specialists"
)

// Row is one label/value line of the patient block.
type Row struct {
	Label string
	Value string
}

type Section struct {
	Heading    string
	Rows       []Row
	Paragraphs []string
}

// Document is the renderer-independent report layout.
type Document struct {
	Title    string
	Sections []Section
}

// Build lays out the report for a session. The specialists section is
// omitted when the listing is empty.
func Build(s consultation.Session) Document {
	doc := Document{Title: Title}

	if p := s.Profile; p != nil {
		fever := "No"
		if p.FeverPresent {
			fever = "Yes"
		}
		doc.Sections = append(doc.Sections, Section{
			Heading: headingPatient,
			Rows: []Row{
				{"Age:", strconv.Itoa(p.Age)},
				{"Gender:", string(p.Gender)},
				{"Duration:", fmt.Sprintf("%d day(s)", p.SymptomDurationDays)},
				{"Fever:", fever},
				{"ZIP Code:", p.LocationCode},
			},
		})
	}

	var findings []string
	for _, line := range strings.Split(s.Analysis, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			findings = append(findings, line)
		}
	}
	doc.Sections = append(doc.Sections, Section{Heading: headingFindings, Paragraphs: findings})

	if len(s.Specialists) > 0 {
		lines := make([]string, 0, len(s.Specialists))
		for _, sp := range s.Specialists {
			lines = append(lines, fmt.Sprintf("- %s (%s)", sp.Name, sp.Address))
		}
		doc.Sections = append(doc.Sections, Section{Heading: headingNearby, Paragraphs: lines})
	}
	return doc
}

// Text flattens the document, mainly for logging and tests.
func (d Document) Text() string {
	var b strings.Builder
	b.WriteString(d.Title)
	b.WriteByte('\n')
	for _, sec := range d.Sections {
		b.WriteString(sec.Heading)
		b.WriteByte('\n')
		for _, r := range sec.Rows {
			b.WriteString(r.Label + " " + r.Value + "\n")
		}
		for _, p := range sec.Paragraphs {
			b.WriteString(p + "\n")
		}
	}
	return b.String()
}
