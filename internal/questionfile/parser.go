// Package questionfile reads the plain-text question format used to author polls.
// A numbered line such as "1. What is the capital of France?" starts a question.
// Each following line is an option: "+ Paris" marks a correct one and
// "- London" a wrong one. A blank line ends the question.
package questionfile

import (
	"bufio"
	"fmt"
	"io"
	"regexp"
	"strings"

	"quiz-round-service/internal/domain"
)

var numbered = regexp.MustCompile(`^\d+\.\s+(.*)$`)

// ParseError points at the offending line (1-based).
type ParseError struct {
	Line int
	Msg  string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("line %d: %s", e.Line, e.Msg)
}

// Parse reads question drafts in file order and numbers them from 1.
func Parse(r io.Reader) ([]domain.QuestionDraft, error) {
	var (
		out     []domain.QuestionDraft
		current *domain.QuestionDraft
		startAt int
	)
	flush := func() error {
		if current == nil {
			return nil
		}
		if len(current.Options) == 0 {
			return &ParseError{Line: startAt, Msg: fmt.Sprintf("question %q has no options", current.Text)}
		}
		out = append(out, *current)
		current = nil
		return nil
	}

	scanner := bufio.NewScanner(r)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		switch {
		case line == "":
			if err := flush(); err != nil {
				return nil, err
			}
		case numbered.MatchString(line):
			if err := flush(); err != nil {
				return nil, err
			}
			text := strings.TrimSpace(numbered.FindStringSubmatch(line)[1])
			current = &domain.QuestionDraft{Text: text, Order: len(out) + 1}
			startAt = lineNo
		case current == nil:
			return nil, &ParseError{Line: lineNo, Msg: "expected a numbered question"}
		case strings.HasPrefix(line, "+ "):
			option := strings.TrimSpace(line[2:])
			current.Options = append(current.Options, option)
			current.CorrectAnswers = append(current.CorrectAnswers, option)
		case strings.HasPrefix(line, "- "):
			current.Options = append(current.Options, strings.TrimSpace(line[2:]))
		default:
			return nil, &ParseError{Line: lineNo, Msg: "expected '+', '-', or a numbered question"}
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read question file: %w", err)
	}
	if err := flush(); err != nil {
		return nil, err
	}
	return out, nil
}
