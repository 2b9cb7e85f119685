package grading

import (
	"errors"
	"math"
	"reflect"
	"testing"

	"github.com/stemsi/exstem-engine/internal/model"
)

func boolPtr(b bool) *bool { return &b }

func almostEqual(a, b float64) bool { return math.Abs(a-b) < 1e-9 }

func TestGradeMultipleChoice(t *testing.T) {
	key := model.AnswerKey{MC: map[int]string{0: "A", 1: "B"}}
	answers := model.AnswerState{MC: []string{"A", "C"}}

	res, err := Grade(answers, key, 2)
	if err != nil {
		t.Fatalf("Grade: %v", err)
	}
	if !almostEqual(res.Score, 5.0) {
		t.Errorf("score = %v, want 5.0", res.Score)
	}
	if !almostEqual(res.CorrectCount, 1) {
		t.Errorf("correct count = %v, want 1", res.CorrectCount)
	}
	if res.Breakdown.MC.Questions != 2 || !almostEqual(res.Breakdown.MC.Credit, 1) {
		t.Errorf("mc breakdown = %+v", res.Breakdown.MC)
	}
}

func TestScoreMC(t *testing.T) {
	tests := []struct {
		name      string
		submitted string
		key       string
		want      float64
	}{
		{name: "exact", submitted: "B", key: "B", want: 1},
		{name: "lower case", submitted: "b", key: "B", want: 1},
		{name: "padded", submitted: " c ", key: "C", want: 1},
		{name: "wrong", submitted: "A", key: "B", want: 0},
		{name: "unanswered", submitted: "", key: "B", want: 0},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := ScoreMC(tc.submitted, tc.key); got != tc.want {
				t.Errorf("ScoreMC(%q, %q) = %v, want %v", tc.submitted, tc.key, got, tc.want)
			}
		})
	}
}

func TestGradeTrueFalsePartialCredit(t *testing.T) {
	key := model.AnswerKey{TF: map[int]model.TFKey{0: {A: true, B: false, C: true, D: false}}}
	answers := model.AnswerState{TF: []model.TFAnswer{{
		Index: 0,
		A:     boolPtr(true),
		B:     boolPtr(true),
		C:     boolPtr(true),
		D:     boolPtr(false),
	}}}

	res, err := Grade(answers, key, 1)
	if err != nil {
		t.Fatalf("Grade: %v", err)
	}
	if !almostEqual(res.CorrectCount, 0.75) {
		t.Errorf("credit = %v, want 0.75", res.CorrectCount)
	}
	if !almostEqual(res.Score, 7.5) {
		t.Errorf("score = %v, want 7.5", res.Score)
	}
}

func TestScoreTFUnansweredNeverMatches(t *testing.T) {
	key := model.TFKey{A: false, B: false, C: false, D: false}
	if got := ScoreTF(model.TFAnswer{Index: 0}, key); got != 0 {
		t.Fatalf("unanswered statements scored %v", got)
	}
	if got := ScoreTF(model.TFAnswer{Index: 0, A: boolPtr(false)}, key); got != 0.25 {
		t.Fatalf("one matching statement scored %v, want 0.25", got)
	}
}

func TestScoreSA(t *testing.T) {
	g := New(DefaultRelativeTolerance)
	tests := []struct {
		name      string
		submitted string
		key       string
		want      float64
	}{
		{name: "within tolerance", submitted: "10.4", key: "10", want: 1},
		{name: "outside tolerance", submitted: "10.6", key: "10", want: 0},
		{name: "lower bound", submitted: "9.6", key: "10", want: 1},
		{name: "negative key", submitted: "-10.3", key: "-10", want: 1},
		{name: "zero key exact", submitted: "0", key: "0", want: 1},
		{name: "zero key decimal form", submitted: "0.00", key: "0", want: 1},
		{name: "zero key off by epsilon", submitted: "0.0001", key: "0", want: 0},
		{name: "text case insensitive", submitted: "  Photosynthesis ", key: "photosynthesis", want: 1},
		{name: "text mismatch", submitted: "respiration", key: "photosynthesis", want: 0},
		{name: "numeric key text answer", submitted: "ten", key: "10", want: 0},
		{name: "empty", submitted: "   ", key: "10", want: 0},
		{name: "nan is text", submitted: "NaN", key: "nan", want: 1},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := g.ScoreSA(tc.submitted, tc.key); got != tc.want {
				t.Errorf("ScoreSA(%q, %q) = %v, want %v", tc.submitted, tc.key, got, tc.want)
			}
		})
	}
}

func TestGradeMixed(t *testing.T) {
	key := model.AnswerKey{
		MC: map[int]string{0: "A", 1: "D", 2: "C"},
		TF: map[int]model.TFKey{0: {A: true, B: true, C: false, D: false}},
		SA: map[int]model.KeyValue{0: "3.14", 1: "Jakarta"},
	}
	answers := model.AnswerState{
		MC: []string{"a", "", "B"},
		TF: []model.TFAnswer{{Index: 0, A: boolPtr(true), B: boolPtr(true), C: nil, D: boolPtr(true)}},
		SA: []model.SAAnswer{{Index: 0, Value: "3.1"}, {Index: 1, Value: "jakarta"}},
	}

	res, err := Grade(answers, key, 6)
	if err != nil {
		t.Fatalf("Grade: %v", err)
	}
	// mc 1 + tf 0.5 + sa 2
	if !almostEqual(res.CorrectCount, 3.5) {
		t.Errorf("credit = %v, want 3.5", res.CorrectCount)
	}
	if !almostEqual(res.Score, 3.5/6*10) {
		t.Errorf("score = %v", res.Score)
	}
	want := model.Breakdown{
		MC: model.TypeBreakdown{Questions: 3, Credit: 1},
		TF: model.TypeBreakdown{Questions: 1, Credit: 0.5},
		SA: model.TypeBreakdown{Questions: 2, Credit: 2},
	}
	if res.Breakdown != want {
		t.Errorf("breakdown = %+v, want %+v", res.Breakdown, want)
	}
}

func TestGradeZeroQuestions(t *testing.T) {
	res, err := Grade(model.AnswerState{}, model.AnswerKey{}, 0)
	if err != nil {
		t.Fatalf("Grade: %v", err)
	}
	if res.Score != 0 || res.CorrectCount != 0 {
		t.Fatalf("got %+v, want zero score", res)
	}
}

func TestGradeIgnoresUnkeyedAnswers(t *testing.T) {
	key := model.AnswerKey{MC: map[int]string{0: "A"}}
	answers := model.AnswerState{
		MC: []string{"A", "B", "C"},
		TF: []model.TFAnswer{{Index: 9, A: boolPtr(true)}},
		SA: []model.SAAnswer{{Index: 4, Value: "x"}},
	}
	res, err := Grade(answers, key, 1)
	if err != nil {
		t.Fatalf("Grade: %v", err)
	}
	if !almostEqual(res.Score, 10) || !almostEqual(res.CorrectCount, 1) {
		t.Fatalf("got score %v credit %v, want 10 and 1", res.Score, res.CorrectCount)
	}
}

func TestGradeIsPure(t *testing.T) {
	key := model.AnswerKey{
		MC: map[int]string{0: "B", 1: "C"},
		TF: map[int]model.TFKey{0: {A: true}},
		SA: map[int]model.KeyValue{0: "42"},
	}
	answers := model.AnswerState{
		MC: []string{"B", "A"},
		TF: []model.TFAnswer{{Index: 0, A: boolPtr(true), B: boolPtr(true)}},
		SA: []model.SAAnswer{{Index: 0, Value: "41"}},
	}
	before := answers.Clone()

	first, err := Grade(answers, key, 4)
	if err != nil {
		t.Fatalf("Grade: %v", err)
	}
	for i := 0; i < 20; i++ {
		again, err := Grade(answers, key, 4)
		if err != nil {
			t.Fatalf("Grade: %v", err)
		}
		if !reflect.DeepEqual(first, again) {
			t.Fatalf("run %d: %+v differs from %+v", i, again, first)
		}
	}
	if !reflect.DeepEqual(before, answers) {
		t.Fatal("Grade mutated the answer state")
	}
}

func TestGradeInvariantViolations(t *testing.T) {
	tests := []struct {
		name  string
		tol   float64
		key   model.AnswerKey
		total int
	}{
		{name: "negative tolerance", tol: -0.1, key: model.AnswerKey{}, total: 1},
		{name: "nan tolerance", tol: math.NaN(), key: model.AnswerKey{}, total: 1},
		{name: "negative total", tol: 0.05, key: model.AnswerKey{}, total: -1},
		{name: "key larger than total", tol: 0.05, key: model.AnswerKey{MC: map[int]string{0: "A", 1: "B"}}, total: 1},
		{name: "mc key not a letter", tol: 0.05, key: model.AnswerKey{MC: map[int]string{0: "AB"}}, total: 1},
		{name: "mc key digit", tol: 0.05, key: model.AnswerKey{MC: map[int]string{0: "1"}}, total: 1},
		{name: "empty sa key", tol: 0.05, key: model.AnswerKey{SA: map[int]model.KeyValue{0: " "}}, total: 1},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := New(tc.tol).Grade(model.AnswerState{}, tc.key, tc.total)
			if !errors.Is(err, ErrGradingInvariant) {
				t.Fatalf("err = %v, want ErrGradingInvariant", err)
			}
		})
	}
}

func TestDisplayScore(t *testing.T) {
	key := model.AnswerKey{MC: map[int]string{0: "A", 1: "A", 2: "A"}}
	res, err := Grade(model.AnswerState{MC: []string{"A"}}, key, 3)
	if err != nil {
		t.Fatalf("Grade: %v", err)
	}
	if res.DisplayScore() != 3.3 {
		t.Errorf("display = %v, want 3.3", res.DisplayScore())
	}
	if almostEqual(res.Score, 3.3) {
		t.Errorf("stored score lost precision: %v", res.Score)
	}
}
