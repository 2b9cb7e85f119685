package validator

import (
	"testing"

	"github.com/stemsi/exstem-engine/internal/model"
)

func strPtr(s string) *string { return &s }

func TestCheckAnswerInput(t *testing.T) {
	Setup()

	tests := []struct {
		name  string
		in    model.AnswerInput
		field string
	}{
		{"valid choice", model.AnswerInput{Kind: model.QuestionKindMC, Choice: strPtr("b")}, ""},
		{"cleared choice", model.AnswerInput{Kind: model.QuestionKindMC}, ""},
		{"blank choice", model.AnswerInput{Kind: model.QuestionKindMC, Choice: strPtr(" ")}, ""},
		{"letter past E", model.AnswerInput{Kind: model.QuestionKindMC, Choice: strPtr("F")}, "choice"},
		{"two letters", model.AnswerInput{Kind: model.QuestionKindMC, Choice: strPtr("AB")}, "choice"},
		{"unknown kind", model.AnswerInput{Kind: "essay"}, "kind"},
		{"bad statement", model.AnswerInput{Kind: model.QuestionKindTF, Statement: "e"}, "statement"},
		{"negative index", model.AnswerInput{Kind: model.QuestionKindSA, Index: -2}, "index"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fields := Check(tt.in)
			if tt.field == "" {
				if fields != nil {
					t.Fatalf("unexpected errors %v", fields)
				}
				return
			}
			msg, ok := fields[tt.field]
			if !ok {
				t.Fatalf("errors %v, want one for %q", fields, tt.field)
			}
			if msg == "" {
				t.Fatal("empty message")
			}
		})
	}
}

func TestChoiceMessageIsTranslated(t *testing.T) {
	Setup()
	fields := Check(model.AnswerInput{Kind: model.QuestionKindMC, Choice: strPtr("Q")})
	if got, want := fields["choice"], "choice must be a single letter from A to E"; got != want {
		t.Fatalf("message = %q, want %q", got, want)
	}
}

func TestFirstIsStable(t *testing.T) {
	fields := map[string]string{"type": "t", "index": "i", "kind": "k"}
	for i := 0; i < 10; i++ {
		if got := First(fields); got != "i" {
			t.Fatalf("First = %q, want i", got)
		}
	}
	if First(nil) != "" {
		t.Fatal("First(nil) should be empty")
	}
}
