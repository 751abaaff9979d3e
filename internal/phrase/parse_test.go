package phrase

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestParseMixedMarkers(t *testing.T) {
	t.Parallel()
	raw := "1. a\n- b\n[3] c\njust text here\n"
	got, rep := ParseWithReport(raw)
	want := []string{"a", "b", "c", "just text here"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("Parse mismatch (-want +got):\n%s", diff)
	}
	if rep.Matched != 3 || rep.Fallback != 1 || rep.Skipped != 0 {
		t.Fatalf("report = %+v", rep)
	}
}

func TestParseVariants(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		raw  string
		want []string
	}{
		{name: "latin dot", raw: "12. hello world", want: []string{"hello world"}},
		{name: "latin dash", raw: "3- dash", want: []string{"dash"}},
		{name: "latin paren", raw: "7)paren", want: []string{"paren"}},
		{name: "arabic indic", raw: "١٢. مرحبا", want: []string{"مرحبا"}},
		{name: "bullet", raw: "• dot bullet", want: []string{"dot bullet"}},
		{name: "bracketed", raw: "[10] tenth", want: []string{"tenth"}},
		{name: "short fallback dropped", raw: "abc", want: nil},
		{name: "four runes kept", raw: "abcd", want: []string{"abcd"}},
		{name: "blank lines", raw: "\n\n  \n1. x\n\n", want: []string{"x"}},
		{name: "crlf", raw: "1. one\r\n2. two\r\n", want: []string{"one", "two"}},
		{name: "order kept", raw: "3. c\n1. a\n2. b", want: []string{"c", "a", "b"}},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := Parse(tt.raw)
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Fatalf("Parse(%q) mismatch (-want +got):\n%s", tt.raw, diff)
			}
		})
	}
}

func TestParseReportSkipped(t *testing.T) {
	t.Parallel()
	_, rep := ParseWithReport("ok\n1. fine\nno")
	if rep.Skipped != 2 || rep.Total() != 1 {
		t.Fatalf("report = %+v", rep)
	}
}
