package loader

import (
	"bufio"
	"encoding/csv"
	"fmt"
	"io"
	"strings"
)

// TextLoader treats blank-line separated blocks as paragraphs.
type TextLoader struct{}

func (TextLoader) Load(r io.Reader, filename string) (*Document, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	doc := &Document{Title: titleFromName(filename)}
	var para strings.Builder
	emit := func() {
		if para.Len() > 0 {
			doc.Sections = append(doc.Sections, &Section{Text: para.String()})
			para.Reset()
		}
	}
	for scanner.Scan() {
		line := scanner.Text()
		if strings.TrimSpace(line) == "" {
			emit()
			continue
		}
		if para.Len() > 0 {
			para.WriteString("\n")
		}
		para.WriteString(line)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	emit()
	return doc, nil
}

// csvBatch is the number of data rows rendered into one section.
const csvBatch = 20

// CSVLoader renders rows as "header: value" sentences in batches.
type CSVLoader struct{}

func (CSVLoader) Load(r io.Reader, filename string) (*Document, error) {
	reader := csv.NewReader(r)
	reader.LazyQuotes = true
	reader.TrimLeadingSpace = true
	reader.FieldsPerRecord = -1

	records, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("parse csv: %w", err)
	}
	doc := &Document{Title: titleFromName(filename)}
	if len(records) == 0 {
		return doc, nil
	}

	headers, rows := records[0], records[1:]
	for start := 0; start < len(rows); start += csvBatch {
		end := min(start+csvBatch, len(rows))
		var sb strings.Builder
		for i, row := range rows[start:end] {
			if i > 0 {
				sb.WriteString("\n")
			}
			cells := make([]string, 0, len(row))
			for j, cell := range row {
				if j < len(headers) && headers[j] != "" {
					cells = append(cells, headers[j]+": "+cell)
				} else {
					cells = append(cells, cell)
				}
			}
			sb.WriteString(strings.Join(cells, ", "))
			sb.WriteString(".")
		}
		doc.Sections = append(doc.Sections, &Section{
			// Row numbers are 1-based and count the header row.
			Heading: fmt.Sprintf("Rows %d-%d", start+2, end+1),
			Text:    sb.String(),
		})
	}
	return doc, nil
}
