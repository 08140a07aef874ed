// Offline puzzle validation for the single-player adaptive mode. This
// is a collaborator of the quiz core, not part of it: multiplayer quiz
// scoring is exact-match only, while these validators award partial
// credit per puzzle type.

package main

import (
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"time"

	"github.com/julienschmidt/httprouter"
)

type validationResult struct {
	IsCorrect bool   `json:"isCorrect"`
	Score     int    `json:"score"`
	Feedback  string `json:"feedback"`
}

type puzzleValidationRequest struct {
	PuzzleType string `json:"puzzleType"`
	Answer     any    `json:"answer"`
	Solution   any    `json:"solution"`
}

// asIndexSlice coerces a JSON-decoded value into a slice of cell
// indices. JSON numbers arrive as float64.
func asIndexSlice(v any) ([]int, bool) {
	switch s := v.(type) {
	case []int:
		return s, true
	case []any:
		out := make([]int, 0, len(s))
		for _, item := range s {
			f, ok := item.(float64)
			if !ok {
				return nil, false
			}
			out = append(out, int(f))
		}
		return out, true
	}
	return nil, false
}

func containsIndex(s []int, v int) bool {
	for _, item := range s {
		if item == v {
			return true
		}
	}
	return false
}

// validateAnswer checks a single-player puzzle answer against its
// solution and returns correctness, a 0-100 score, and user-facing
// feedback. Partial-credit rules differ per puzzle type:
//
//   - pattern: set overlap; near-misses lose 20 points per cell of
//     length difference
//   - logic: exact sequence completion, no partial credit
//   - spatial: set overlap with penalties for both false positives and
//     false negatives
func validateAnswer(puzzleType string, answer, solution any) validationResult {
	switch puzzleType {
	case "pattern":
		return validatePattern(answer, solution)
	case "logic":
		return validateLogic(answer, solution)
	case "spatial":
		return validateSpatial(answer, solution)
	default:
		return validationResult{Feedback: "Unknown puzzle type"}
	}
}

func validatePattern(answer, solution any) validationResult {
	answerCells, aok := asIndexSlice(answer)
	solutionCells, sok := asIndexSlice(solution)
	if !aok || !sok {
		return validationResult{Feedback: "Pattern doesn't match exactly"}
	}

	correct := len(answerCells) == len(solutionCells)
	for _, cell := range answerCells {
		if !containsIndex(solutionCells, cell) {
			correct = false
			break
		}
	}

	if correct {
		return validationResult{
			IsCorrect: true,
			Score:     100,
			Feedback:  "Perfect pattern match!",
		}
	}

	diff := len(answerCells) - len(solutionCells)
	if diff < 0 {
		diff = -diff
	}
	score := 100 - diff*20
	if score < 0 {
		score = 0
	}

	return validationResult{
		Score:    score,
		Feedback: "Pattern doesn't match exactly",
	}
}

func validateLogic(answer, solution any) validationResult {
	if fmt.Sprint(answer) == fmt.Sprint(solution) {
		return validationResult{
			IsCorrect: true,
			Score:     100,
			Feedback:  "Correct sequence completion!",
		}
	}

	return validationResult{Feedback: "Wrong number in sequence"}
}

func validateSpatial(answer, solution any) validationResult {
	answerCells, aok := asIndexSlice(answer)
	solutionCells, sok := asIndexSlice(solution)
	if !aok || !sok || len(solutionCells) == 0 {
		return validationResult{}
	}

	correctSelections := 0
	for _, cell := range answerCells {
		if containsIndex(solutionCells, cell) {
			correctSelections++
		}
	}
	incorrectSelections := len(answerCells) - correctSelections
	missedSelections := len(solutionCells) - correctSelections

	isCorrect := correctSelections == len(solutionCells) && incorrectSelections == 0

	score := float64(correctSelections)*100/float64(len(solutionCells)) -
		float64(incorrectSelections)*20 -
		float64(missedSelections)*20
	if score < 0 {
		score = 0
	}

	feedback := fmt.Sprintf("%d/%d correct selections", correctSelections, len(solutionCells))
	if isCorrect {
		feedback = "Perfect spatial recognition!"
	}

	return validationResult{
		IsCorrect: isCorrect,
		Score:     int(math.Round(score)),
		Feedback:  feedback,
	}
}

func servePuzzleValidation(cfg *Config, errs chan<- error) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		startTime := time.Now()

		var req puzzleValidationRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid request body", http.StatusBadRequest)
			return
		}

		result := validateAnswer(req.PuzzleType, req.Answer, req.Solution)

		data, err := json.Marshal(result)
		if err != nil {
			errs <- err
			http.Error(w, "validation failed", http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		securityHeaders(cfg, w)

		written, err := w.Write(data)
		if err != nil {
			errs <- err

			return
		}

		logf(cfg, "SERVE: Puzzle validation (%s) to %s in %s",
			humanReadableSize(int64(written)),
			realIP(r),
			time.Since(startTime).Round(time.Microsecond),
		)
	}
}
