package questionfile

import (
	"errors"
	"reflect"
	"strings"
	"testing"
)

func TestParseQuestions(t *testing.T) {
	input := `1. What is the capital of France?
+ Paris
- London

2. Pick the primes
+ 2
+ 3
- 4
3. Opinion poll
- Yes
- No
`
	drafts, err := Parse(strings.NewReader(input))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(drafts) != 3 {
		t.Fatalf("expected 3 questions, got %d", len(drafts))
	}
	if drafts[0].Text != "What is the capital of France?" || drafts[0].Order != 1 {
		t.Fatalf("unexpected first question: %+v", drafts[0])
	}
	if !reflect.DeepEqual(drafts[1].Options, []string{"2", "3", "4"}) {
		t.Fatalf("unexpected options: %v", drafts[1].Options)
	}
	if !reflect.DeepEqual(drafts[1].CorrectAnswers, []string{"2", "3"}) {
		t.Fatalf("unexpected correct answers: %v", drafts[1].CorrectAnswers)
	}
	if drafts[2].Order != 3 || len(drafts[2].CorrectAnswers) != 0 {
		t.Fatalf("question without correct answers should be kept: %+v", drafts[2])
	}
}

func TestParseRejectsStrayLines(t *testing.T) {
	cases := []struct {
		name  string
		input string
		line  int
		msg   string
	}{
		{"option before question", "+ Paris\n", 1, "expected a numbered question"},
		{"garbage inside question", "1. Q\n+ A\nnot an option\n", 3, "expected '+', '-', or a numbered question"},
		{"option after blank line", "1. Q\n+ A\n\n- B\n", 4, "expected a numbered question"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Parse(strings.NewReader(tc.input))
			var perr *ParseError
			if !errors.As(err, &perr) {
				t.Fatalf("expected ParseError, got %v", err)
			}
			if perr.Line != tc.line || perr.Msg != tc.msg {
				t.Fatalf("got line %d %q, want line %d %q", perr.Line, perr.Msg, tc.line, tc.msg)
			}
		})
	}
}

func TestParseRejectsQuestionWithoutOptions(t *testing.T) {
	_, err := Parse(strings.NewReader("1. Lonely question\n\n2. Next\n+ A\n"))
	var perr *ParseError
	if !errors.As(err, &perr) || perr.Line != 1 {
		t.Fatalf("expected ParseError on line 1, got %v", err)
	}
}
