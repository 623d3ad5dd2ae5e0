// Package loader turns uploaded documents into the plain text a tree is
// built from. Headings are kept as their own paragraphs so the chunker
// never merges a heading into the body of the previous section.
package loader

import (
	"fmt"
	"io"
	"path/filepath"
	"slices"
	"strings"
)

// Loader reads one document format.
type Loader interface {
	Load(r io.Reader, filename string) (*Document, error)
}

// Document is a loaded file as an outline of sections.
type Document struct {
	Title    string
	Sections []*Section
}

// Section is a heading with its body text and subsections. Leaf text
// outside any heading has an empty Heading.
type Section struct {
	Heading  string
	Text     string
	Page     int // 1-based source page, 0 when unknown
	Children []*Section
}

// Text flattens the outline depth-first into paragraphs separated by a
// blank line.
func (d *Document) Text() string {
	var parts []string
	var walk func([]*Section)
	walk = func(sections []*Section) {
		for _, s := range sections {
			if h := strings.TrimSpace(s.Heading); h != "" {
				parts = append(parts, h)
			}
			if t := strings.TrimSpace(s.Text); t != "" {
				parts = append(parts, t)
			}
			walk(s.Children)
		}
	}
	walk(d.Sections)
	return strings.Join(parts, "\n\n")
}

var extensions = []string{".csv", ".docx", ".htm", ".html", ".markdown", ".md", ".pdf", ".txt"}

// Extensions lists the supported file extensions.
func Extensions() []string { return slices.Clone(extensions) }

// IsSupported reports whether filename has a supported extension.
func IsSupported(filename string) bool {
	return slices.Contains(extensions, strings.ToLower(filepath.Ext(filename)))
}

// ForFile returns the loader for filename's extension.
func ForFile(filename string) (Loader, error) {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".txt":
		return TextLoader{}, nil
	case ".md", ".markdown":
		return MarkdownLoader{}, nil
	case ".csv":
		return CSVLoader{}, nil
	case ".html", ".htm":
		return HTMLLoader{}, nil
	case ".pdf":
		return PDFLoader{FallbackPdftotext: true}, nil
	case ".docx":
		return DOCXLoader{}, nil
	default:
		return nil, fmt.Errorf("unsupported file extension %q", filepath.Ext(filename))
	}
}

// LoadText loads r with the loader for filename and returns its flattened
// text.
func LoadText(r io.Reader, filename string) (string, error) {
	l, err := ForFile(filename)
	if err != nil {
		return "", err
	}
	doc, err := l.Load(r, filename)
	if err != nil {
		return "", fmt.Errorf("load %s: %w", filepath.Base(filename), err)
	}
	return doc.Text(), nil
}

func titleFromName(filename string) string {
	base := filepath.Base(filename)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// outline assembles a heading hierarchy from a flat stream of headings and
// text blocks.
type outline struct {
	root  *Section
	stack []outlineEntry
	buf   strings.Builder
}

type outlineEntry struct {
	section *Section
	level   int
}

func newOutline() *outline {
	root := &Section{}
	return &outline{root: root, stack: []outlineEntry{{section: root}}}
}

// heading opens a section at level, closing any open section at the same
// or a deeper level.
func (o *outline) heading(level int, title string) {
	o.flush()
	s := &Section{Heading: title}
	for len(o.stack) > 1 && o.stack[len(o.stack)-1].level >= level {
		o.stack = o.stack[:len(o.stack)-1]
	}
	parent := o.stack[len(o.stack)-1].section
	parent.Children = append(parent.Children, s)
	o.stack = append(o.stack, outlineEntry{section: s, level: level})
}

// text appends a paragraph to the innermost open section.
func (o *outline) text(t string) {
	t = strings.TrimSpace(t)
	if t == "" {
		return
	}
	if o.buf.Len() > 0 {
		o.buf.WriteString("\n\n")
	}
	o.buf.WriteString(t)
}

func (o *outline) flush() {
	t := o.buf.String()
	o.buf.Reset()
	if t == "" {
		return
	}
	top := o.stack[len(o.stack)-1].section
	if top.Text != "" {
		top.Text += "\n\n" + t
	} else {
		top.Text = t
	}
}

// sections closes the outline. Text that preceded the first heading comes
// first as an untitled section.
func (o *outline) sections() []*Section {
	o.flush()
	out := o.root.Children
	if o.root.Text != "" {
		out = append([]*Section{{Text: o.root.Text}}, out...)
	}
	return out
}
