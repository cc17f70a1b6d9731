package main

import (
	"fmt"
	"io"
	"strings"
	"sync"
	"unicode/utf8"

	"henkan/internal/ime"
)

// termSurface is a single-line terminal implementation of ime.Surface used
// by the interactive front end. The coordinator event loop and the input
// loop both touch it, so access is locked.
type termSurface struct {
	mu   sync.Mutex
	out  io.Writer
	line string
}

func newTermSurface(out io.Writer) *termSurface {
	return &termSurface{out: out}
}

func (s *termSurface) Cursor() ime.Position {
	s.mu.Lock()
	defer s.mu.Unlock()
	return ime.Position{Row: 0, Col: utf8.RuneCountInString(s.line)}
}

func (s *termSurface) Line(row int) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if row != 0 {
		return ""
	}
	return s.line
}

func (s *termSurface) SetLine(row int, text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if row != 0 {
		return
	}
	s.line = text
	fmt.Fprintf(s.out, "text: %s\n", text)
}

func (s *termSurface) Render(v ime.View) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !v.Active {
		fmt.Fprintln(s.out, "[off]")
		return
	}
	if v.Preedit == "" {
		fmt.Fprintln(s.out, "[on]")
		return
	}

	var b strings.Builder
	fmt.Fprintf(&b, "preedit: %s", v.Preedit)
	if len(v.Segments) > 0 {
		b.WriteString("  segments:")
		for i, seg := range v.Segments {
			marker := " "
			if i+1 == v.ActiveSegment {
				marker = "*"
			}
			fmt.Fprintf(&b, " %s[%s]", marker, seg.Text())
		}
	} else if len(v.Candidates) > 0 {
		b.WriteString("  candidates:")
		for i, cand := range v.Candidates {
			if i+1 == v.Selected {
				fmt.Fprintf(&b, " >%s<", cand)
			} else {
				fmt.Fprintf(&b, " %s", cand)
			}
		}
	}
	fmt.Fprintln(s.out, b.String())
}

func (s *termSurface) ForwardKey(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch key {
	case "<bs>":
		if s.line != "" {
			r := []rune(s.line)
			s.line = string(r[:len(r)-1])
		}
	default:
		if !strings.HasPrefix(key, "<") {
			s.line += key
		}
	}
	fmt.Fprintf(s.out, "text: %s\n", s.line)
}

// Show prints the committed line, for the :show command.
func (s *termSurface) Show() {
	s.mu.Lock()
	defer s.mu.Unlock()
	fmt.Fprintf(s.out, "text: %s\n", s.line)
}
