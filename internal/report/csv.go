package report

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// WriteCSV writes the results sheet: one line per participant followed by an
// answer and a correct-answer column per question.
func WriteCSV(w io.Writer, r Report) error {
	cw := csv.NewWriter(w)

	header := []string{"Full name", "Username", "Email", "Total score"}
	for _, q := range r.Questions {
		header = append(header, fmt.Sprintf("Answer %d", q.Order), fmt.Sprintf("Correct answer %d", q.Order))
	}
	if err := cw.Write(header); err != nil {
		return err
	}

	for _, row := range r.Rows {
		line := []string{row.FullName, row.Username, row.Email, formatScore(row.Total)}
		for _, ans := range row.Answers {
			selected := NotAnswered
			if ans.Answered {
				selected = strings.Join(ans.Selected, ", ")
			}
			line = append(line, selected, strings.Join(ans.Correct, ", "))
		}
		if err := cw.Write(line); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteDescriptionCSV writes the poll description block as key/value lines.
func WriteDescriptionCSV(w io.Writer, r Report) error {
	cw := csv.NewWriter(w)
	lines := [][]string{
		{"Title", r.Poll.Title},
		{"Description", r.Poll.Description},
		{"Question count", strconv.Itoa(len(r.Questions))},
	}
	for _, q := range r.Questions {
		lines = append(lines,
			[]string{fmt.Sprintf("Question %d", q.Order), q.Text},
			[]string{"Options", strings.Join(q.Options, ", ")},
			[]string{"Correct answers", strings.Join(q.CorrectAnswers, ", ")},
		)
	}
	if err := cw.WriteAll(lines); err != nil {
		return err
	}
	return cw.Error()
}

func formatScore(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
