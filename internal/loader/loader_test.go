package loader

import (
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestTextLoader_Paragraphs(t *testing.T) {
	input := "First paragraph line one.\nFirst paragraph line two.\n\n\n\nSecond paragraph.\n   \nThird paragraph."
	doc, err := TextLoader{}.Load(strings.NewReader(input), "dir/notes.txt")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if doc.Title != "notes" {
		t.Errorf("expected title %q, got %q", "notes", doc.Title)
	}
	want := []string{
		"First paragraph line one.\nFirst paragraph line two.",
		"Second paragraph.",
		"Third paragraph.",
	}
	var got []string
	for _, s := range doc.Sections {
		got = append(got, s.Text)
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("paragraphs (-want +got):\n%s", diff)
	}
}

func TestTextLoader_Empty(t *testing.T) {
	doc, err := TextLoader{}.Load(strings.NewReader(""), "empty.txt")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(doc.Sections) != 0 || doc.Text() != "" {
		t.Errorf("expected no content, got %+v", doc.Sections)
	}
}

func TestMarkdownLoader_HeadingHierarchy(t *testing.T) {
	input := `Preamble.

# Title

Intro text.

## Section A

Section A content.

### Subsection A1

Subsection A1 content.

## Section B

- item one
- item two
`
	doc, err := MarkdownLoader{}.Load(strings.NewReader(input), "doc.md")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(doc.Sections) != 2 {
		t.Fatalf("expected preamble and one h1, got %d sections", len(doc.Sections))
	}
	if doc.Sections[0].Heading != "" || doc.Sections[0].Text != "Preamble." {
		t.Errorf("unexpected preamble %+v", doc.Sections[0])
	}
	h1 := doc.Sections[1]
	if h1.Heading != "Title" || h1.Text != "Intro text." {
		t.Errorf("unexpected h1 %+v", h1)
	}
	if len(h1.Children) != 2 {
		t.Fatalf("expected 2 h2 children, got %d", len(h1.Children))
	}
	a, b := h1.Children[0], h1.Children[1]
	if a.Heading != "Section A" || len(a.Children) != 1 || a.Children[0].Heading != "Subsection A1" {
		t.Errorf("unexpected section A %+v", a)
	}
	if b.Heading != "Section B" || !strings.Contains(b.Text, "item one") || !strings.Contains(b.Text, "item two") {
		t.Errorf("unexpected section B %+v", b)
	}

	text := doc.Text()
	for _, want := range []string{"Preamble.\n\nTitle\n\nIntro text.", "Section A\n\nSection A content.", "Subsection A1\n\nSubsection A1 content."} {
		if !strings.Contains(text, want) {
			t.Errorf("expected flattened text to contain %q, got %q", want, text)
		}
	}
}

func TestMarkdownLoader_CodeBlocks(t *testing.T) {
	input := "# API\n\n## Endpoints\n\n```\nGET /api/tree\n```\n\nMore text after code.\n"
	doc, err := MarkdownLoader{}.Load(strings.NewReader(input), "api.markdown")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if doc.Title != "api" {
		t.Errorf("expected title %q, got %q", "api", doc.Title)
	}
	endpoints := doc.Sections[0].Children[0]
	if !strings.Contains(endpoints.Text, "GET /api/tree") || !strings.Contains(endpoints.Text, "More text after code.") {
		t.Errorf("unexpected endpoints text %q", endpoints.Text)
	}
}

func TestCSVLoader_Batches(t *testing.T) {
	var sb strings.Builder
	sb.WriteString("name,age\n")
	for i := 0; i < 25; i++ {
		sb.WriteString("ann,30\n")
	}
	sb.WriteString("bob,40,extra\n")

	doc, err := CSVLoader{}.Load(strings.NewReader(sb.String()), "people.csv")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(doc.Sections) != 2 {
		t.Fatalf("expected 2 batches, got %d", len(doc.Sections))
	}
	if doc.Sections[0].Heading != "Rows 2-21" || doc.Sections[1].Heading != "Rows 22-27" {
		t.Errorf("unexpected headings %q, %q", doc.Sections[0].Heading, doc.Sections[1].Heading)
	}
	if !strings.HasPrefix(doc.Sections[0].Text, "name: ann, age: 30.") {
		t.Errorf("unexpected row rendering %q", doc.Sections[0].Text)
	}
	if !strings.HasSuffix(doc.Sections[1].Text, "name: bob, age: 40, extra.") {
		t.Errorf("unexpected ragged row rendering %q", doc.Sections[1].Text)
	}
}

func TestHTMLLoader(t *testing.T) {
	input := `<html><head><title>Guide</title><script>var x;</script></head>
<body><nav>menu</nav>
<h1>Start</h1><p>Hello   <b>world</b>.</p>
<h2>Details</h2><ul><li>One.</li><li>Two.</li></ul>
<h1>End</h1><p>Bye.</p></body></html>`
	doc, err := HTMLLoader{}.Load(strings.NewReader(input), "guide.html")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if doc.Title != "Guide" {
		t.Errorf("expected title %q, got %q", "Guide", doc.Title)
	}
	want := "Start\n\nHello world.\n\nDetails\n\nOne.\n\nTwo.\n\nEnd\n\nBye."
	if got := doc.Text(); got != want {
		t.Errorf("expected %q, got %q", want, got)
	}
}

func TestForFile(t *testing.T) {
	for _, name := range []string{"a.txt", "a.MD", "a.markdown", "a.csv", "a.htm", "a.html", "a.pdf", "a.docx"} {
		if _, err := ForFile(name); err != nil {
			t.Errorf("%s: unexpected error: %v", name, err)
		}
		if !IsSupported(name) {
			t.Errorf("%s: expected supported", name)
		}
	}
	if _, err := ForFile("a.exe"); err == nil {
		t.Error("expected error for unsupported extension")
	}
	if IsSupported("noext") {
		t.Error("expected file without extension to be unsupported")
	}
}

func TestLoadText(t *testing.T) {
	text, err := LoadText(strings.NewReader("# Head\n\nBody."), "x.md")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if text != "Head\n\nBody." {
		t.Errorf("expected %q, got %q", "Head\n\nBody.", text)
	}
	if _, err := LoadText(strings.NewReader("not a zip"), "x.docx"); err == nil {
		t.Error("expected error for corrupt docx")
	}
}
