// Package grading scores a finished answer set against an exam's answer key.
//
// Everything here is a pure function of its inputs. It runs server-side only;
// the answer key never crosses into anything the student can observe.
package grading

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/stemsi/exstem-engine/internal/model"
)

// DefaultRelativeTolerance is the accepted relative error of numeric short answers.
const DefaultRelativeTolerance = 0.05

// MaxScore is the score of a fully correct answer set.
const MaxScore = 10.0

// tfStatementCredit is the credit of one correctly judged TF statement.
const tfStatementCredit = 0.25

// ErrGradingInvariant marks a key or configuration that would produce a wrong
// score. It is a data bug, never a student error.
var ErrGradingInvariant = errors.New("grading invariant violated")

// Grader scores answer sets.
type Grader struct {
	// RelativeTolerance applies to numeric short answers: a submission is
	// correct when |key - sub| <= |key| * RelativeTolerance. A key of exactly
	// zero requires an exact match.
	RelativeTolerance float64
}

// New returns a Grader with the given tolerance.
func New(relativeTolerance float64) *Grader {
	return &Grader{RelativeTolerance: relativeTolerance}
}

var defaultGrader = New(DefaultRelativeTolerance)

// Grade scores answers with the default tolerance.
func Grade(answers model.AnswerState, key model.AnswerKey, totalQuestions int) (*model.GradedResult, error) {
	return defaultGrader.Grade(answers, key, totalQuestions)
}

// Grade scores answers against key. Indices present in answers but absent from
// key are ignored. SessionID, timing, flags and reason are left for the caller.
func (g *Grader) Grade(answers model.AnswerState, key model.AnswerKey, totalQuestions int) (*model.GradedResult, error) {
	if err := g.validate(key, totalQuestions); err != nil {
		return nil, err
	}

	var b model.Breakdown

	for _, idx := range sortedKeys(key.MC) {
		b.MC.Questions++
		if idx < len(answers.MC) {
			b.MC.Credit += ScoreMC(answers.MC[idx], key.MC[idx])
		}
	}

	tfByIndex := make(map[int]model.TFAnswer, len(answers.TF))
	for _, tf := range answers.TF {
		tfByIndex[tf.Index] = tf
	}
	for _, idx := range sortedKeys(key.TF) {
		b.TF.Questions++
		if tf, ok := tfByIndex[idx]; ok {
			b.TF.Credit += ScoreTF(tf, key.TF[idx])
		}
	}

	saByIndex := make(map[int]string, len(answers.SA))
	for _, sa := range answers.SA {
		saByIndex[sa.Index] = sa.Value
	}
	for _, idx := range sortedKeys(key.SA) {
		b.SA.Questions++
		if v, ok := saByIndex[idx]; ok {
			b.SA.Credit += g.ScoreSA(v, string(key.SA[idx]))
		}
	}

	credits := b.MC.Credit + b.TF.Credit + b.SA.Credit

	var score float64
	if totalQuestions > 0 {
		score = credits / float64(totalQuestions) * MaxScore
	}

	return &model.GradedResult{
		Score:          score,
		CorrectCount:   credits,
		TotalQuestions: totalQuestions,
		Breakdown:      b,
	}, nil
}

// ScoreMC returns 1 when the submitted letter matches the key, ignoring case.
func ScoreMC(submitted, key string) float64 {
	submitted = strings.TrimSpace(submitted)
	if submitted == "" {
		return 0
	}
	if strings.EqualFold(submitted, strings.TrimSpace(key)) {
		return 1
	}
	return 0
}

// ScoreTF returns 0.25 per statement whose submitted truth value matches the key.
func ScoreTF(submitted model.TFAnswer, key model.TFKey) float64 {
	credit := 0.0
	for _, pair := range []struct {
		got  *bool
		want bool
	}{
		{submitted.A, key.A},
		{submitted.B, key.B},
		{submitted.C, key.C},
		{submitted.D, key.D},
	} {
		if pair.got != nil && *pair.got == pair.want {
			credit += tfStatementCredit
		}
	}
	return credit
}

// ScoreSA compares numerically when both sides are numbers, textually otherwise.
func (g *Grader) ScoreSA(submitted, key string) float64 {
	if strings.TrimSpace(submitted) == "" {
		return 0
	}

	kv, kOK := parseNumber(key)
	sv, sOK := parseNumber(submitted)
	if kOK && sOK {
		if withinTolerance(kv, sv, g.RelativeTolerance) {
			return 1
		}
		return 0
	}

	if strings.EqualFold(strings.TrimSpace(submitted), strings.TrimSpace(key)) {
		return 1
	}
	return 0
}

func withinTolerance(key, submitted, rel float64) bool {
	if key == 0 {
		return submitted == 0
	}
	return math.Abs(key-submitted) <= math.Abs(key)*rel
}

func parseNumber(s string) (float64, bool) {
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, false
	}
	return v, true
}

func (g *Grader) validate(key model.AnswerKey, totalQuestions int) error {
	if g.RelativeTolerance < 0 || math.IsNaN(g.RelativeTolerance) || math.IsInf(g.RelativeTolerance, 0) {
		return fmt.Errorf("%w: tolerance %v", ErrGradingInvariant, g.RelativeTolerance)
	}
	if totalQuestions < 0 {
		return fmt.Errorf("%w: negative question count %d", ErrGradingInvariant, totalQuestions)
	}
	if n := key.Size(); n > totalQuestions {
		return fmt.Errorf("%w: %d keyed questions exceed total %d", ErrGradingInvariant, n, totalQuestions)
	}
	for idx, letter := range key.MC {
		if idx < 0 || !isLetter(strings.TrimSpace(letter)) {
			return fmt.Errorf("%w: mc[%d] key %q is not a single letter", ErrGradingInvariant, idx, letter)
		}
	}
	for idx := range key.TF {
		if idx < 0 {
			return fmt.Errorf("%w: tf key index %d", ErrGradingInvariant, idx)
		}
	}
	for idx, v := range key.SA {
		if idx < 0 || strings.TrimSpace(string(v)) == "" {
			return fmt.Errorf("%w: sa[%d] key is empty", ErrGradingInvariant, idx)
		}
	}
	return nil
}

func isLetter(s string) bool {
	if len(s) != 1 {
		return false
	}
	c := s[0] | 0x20
	return c >= 'a' && c <= 'z'
}

func sortedKeys[V any](m map[int]V) []int {
	keys := make([]int, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Ints(keys)
	return keys
}
