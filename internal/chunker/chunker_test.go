package chunker

import (
	"strings"
	"testing"
	"unicode/utf8"
)

func TestSplit_EmptyInput(t *testing.T) {
	if got := Split("  \n ", DefaultOptions()); got != nil {
		t.Errorf("expected nil, got %v", got)
	}
}

func TestSplit_ShortText(t *testing.T) {
	text := "This is a short block."
	got := Split(text, DefaultOptions())
	if len(got) != 1 || got[0] != text {
		t.Fatalf("expected the text back whole, got %v", got)
	}
}

func TestSplit_PacksParagraphs(t *testing.T) {
	para := strings.Repeat("word ", 30) // 150 runes
	text := strings.Join([]string{para, para, para, para}, "\n\n")

	got := Split(text, Options{MaxRunes: 320, Overlap: 20})
	if len(got) != 2 {
		t.Fatalf("expected 2 windows of two paragraphs, got %d", len(got))
	}
	for i, w := range got {
		if n := utf8.RuneCountInString(w); n > 320 {
			t.Errorf("window %d has %d runes", i, n)
		}
	}
}

func TestSplit_HeadingStartsParagraph(t *testing.T) {
	body := strings.Repeat("filler text ", 20)
	text := "# One\n" + body + "\n# Two\n" + body

	got := Split(text, Options{MaxRunes: 300, Overlap: 0})
	if len(got) < 2 {
		t.Fatalf("expected at least 2 windows, got %d", len(got))
	}
	if !strings.HasPrefix(got[0], "# One") {
		t.Errorf("first window should start at the first heading, got %q", got[0][:10])
	}
	if !strings.HasPrefix(got[1], "# Two") {
		t.Errorf("second window should start at the second heading, got %q", got[1][:10])
	}
}

func TestSplit_LongParagraphOverlaps(t *testing.T) {
	var words []string
	for i := 0; i < 200; i++ {
		words = append(words, "w"+strings.Repeat("x", i%5))
	}
	text := strings.Join(words, " ")

	opts := Options{MaxRunes: 100, Overlap: 20}
	got := Split(text, opts)
	if len(got) < 2 {
		t.Fatalf("expected several windows, got %d", len(got))
	}
	for i, w := range got {
		if n := utf8.RuneCountInString(w); n > opts.MaxRunes {
			t.Errorf("window %d has %d runes", i, n)
		}
	}
	// The last word of one window reappears at the start of the next.
	first := strings.Fields(got[0])
	if !strings.Contains(got[1], first[len(first)-1]) {
		t.Errorf("expected overlap between windows 0 and 1")
	}
}

func TestSplit_OversizedWord(t *testing.T) {
	text := strings.Repeat("é", 250)
	got := Split(text, Options{MaxRunes: 100})
	if len(got) != 3 {
		t.Fatalf("expected 3 windows, got %d", len(got))
	}
	if utf8.RuneCountInString(got[2]) != 50 {
		t.Errorf("expected 50 runes in the last window, got %d", utf8.RuneCountInString(got[2]))
	}
}
