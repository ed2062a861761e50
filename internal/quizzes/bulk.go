package quizzes

import (
	"context"
	"errors"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/quiz-trove/backend/internal/models"
)

// Sheet column layout: question text, comma-separated options, answer index.
const (
	colQuestion = iota
	colOptions
	colAnswer
	sheetColumns
)

// SheetRow is one parsed row of an uploaded question sheet.
// Row is the 1-based row number in the sheet.
type SheetRow struct {
	Row   int
	Input QuestionInput
	Err   error
}

// RowFailure reports a sheet row that was not imported.
type RowFailure struct {
	Row    int    `json:"row"`
	Reason string `json:"reason"`
}

// BulkResult is the outcome of a sheet import.
type BulkResult struct {
	Created []models.Question `json:"created"`
	// Unlinked holds questions that were stored but not added to the quiz's
	// membership list.
	Unlinked []models.Question `json:"unlinked"`
	Failed   []RowFailure      `json:"failed"`
	// Skipped counts rows left unprocessed after a storage failure.
	Skipped int `json:"skipped"`
}

// Committed returns the number of rows written to storage.
func (r *BulkResult) Committed() int {
	return len(r.Created) + len(r.Unlinked)
}

// ParseSheetRows turns raw cells into question inputs. The first non-blank
// row is dropped as a header when its answer cell is not a number. Blank rows
// are ignored. Every comma-separated option keeps its position so the answer
// index still points at the intended choice.
func ParseSheetRows(cells [][]string) []SheetRow {
	rows := make([]SheetRow, 0, len(cells))
	first := true
	for i, raw := range cells {
		if blank(raw) {
			continue
		}
		if first {
			first = false
			if isHeader(raw) {
				continue
			}
		}
		row := SheetRow{Row: i + 1}
		if len(raw) < sheetColumns {
			row.Err = invalid("row", "expected %d columns, got %d", sheetColumns, len(raw))
			rows = append(rows, row)
			continue
		}
		row.Input.QuestionText = raw[colQuestion]
		row.Input.Options = splitOptions(raw[colOptions])
		answer, err := strconv.Atoi(strings.TrimSpace(raw[colAnswer]))
		if err != nil {
			row.Err = invalid("correct_answer", "%q is not a number", raw[colAnswer])
		} else {
			row.Input.CorrectAnswer = &answer
		}
		rows = append(rows, row)
	}
	return rows
}

// CreateQuestionsBulk imports rows in order. Invalid rows are reported and
// skipped. A storage failure stops the import: rows before it stay committed,
// and the partial result is returned with the error.
func (s *Service) CreateQuestionsBulk(ctx context.Context, quizID uuid.UUID, rows []SheetRow, actor string) (*BulkResult, error) {
	if _, err := s.liveQuiz(ctx, quizID); err != nil {
		return nil, err
	}
	res := &BulkResult{Created: []models.Question{}, Unlinked: []models.Question{}, Failed: []RowFailure{}}
	for i, row := range rows {
		if err := ctx.Err(); err != nil {
			res.Skipped = len(rows) - i
			return res, err
		}
		if row.Err != nil {
			res.Failed = append(res.Failed, RowFailure{Row: row.Row, Reason: row.Err.Error()})
			continue
		}
		q, err := s.addQuestion(ctx, quizID, row.Input, actor)
		if errors.Is(err, ErrValidation) {
			res.Failed = append(res.Failed, RowFailure{Row: row.Row, Reason: err.Error()})
			continue
		}
		if err != nil {
			if q != nil {
				res.Unlinked = append(res.Unlinked, *q)
			} else {
				res.Failed = append(res.Failed, RowFailure{Row: row.Row, Reason: ErrStorage.Error()})
			}
			res.Skipped = len(rows) - i - 1
			s.logger.Error("question import stopped",
				zap.Error(err), zap.String("quiz_id", quizID.String()),
				zap.Int("row", row.Row), zap.Int("committed", res.Committed()))
			return res, err
		}
		res.Created = append(res.Created, *q)
	}
	s.logger.Info("questions imported",
		zap.String("quiz_id", quizID.String()),
		zap.Int("created", len(res.Created)), zap.Int("failed", len(res.Failed)))
	return res, nil
}

// splitOptions keeps empty entries; normalize rejects them.
func splitOptions(cell string) []string {
	parts := strings.Split(cell, ",")
	for i, p := range parts {
		parts[i] = strings.TrimSpace(p)
	}
	return parts
}

func isHeader(raw []string) bool {
	if len(raw) <= colAnswer {
		return false
	}
	_, err := strconv.Atoi(strings.TrimSpace(raw[colAnswer]))
	return err != nil
}

func blank(raw []string) bool {
	for _, c := range raw {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}
