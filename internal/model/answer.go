package model

import (
	"errors"
	"sort"
	"strings"
)

// ErrInvalidAnswer is returned when an answer input does not fit its question kind.
var ErrInvalidAnswer = errors.New("invalid answer for question kind")

// TFAnswer is a student's answer to one true/false question. Nil means the
// statement has not been answered.
type TFAnswer struct {
	Index int   `json:"index"`
	A     *bool `json:"a"`
	B     *bool `json:"b"`
	C     *bool `json:"c"`
	D     *bool `json:"d"`
}

// SAAnswer is a student's short answer.
type SAAnswer struct {
	Index int    `json:"index"`
	Value string `json:"value"`
}

// AnswerState is the full set of answers of one session. MC is positional by
// question index; an empty string (or JSON null) means unanswered.
type AnswerState struct {
	MC []string   `json:"mc"`
	TF []TFAnswer `json:"tf"`
	SA []SAAnswer `json:"sa"`
}

// AnswerInput is a single edit sent by the student.
type AnswerInput struct {
	Kind  QuestionKind `json:"kind" binding:"required,oneof=mc tf sa"`
	Index int          `json:"index" binding:"min=0"`
	// Choice is the selected letter of an MC question. Nil clears it.
	Choice *string `json:"choice" binding:"omitempty,mcchoice"`
	// Statement selects the TF sub-statement (a, b, c or d) that Truth sets.
	Statement string `json:"statement" binding:"omitempty,oneof=a b c d"`
	Truth     *bool  `json:"truth"`
	// Text is the SA value. Nil clears it.
	Text *string `json:"text" binding:"omitempty,max=256"`
}

// Ref returns the question addressed by the input.
func (in AnswerInput) Ref() QuestionRef {
	return QuestionRef{Kind: in.Kind, Index: in.Index}
}

// Clone returns a deep copy of the state.
func (s AnswerState) Clone() AnswerState {
	out := AnswerState{
		MC: append([]string(nil), s.MC...),
		TF: make([]TFAnswer, len(s.TF)),
		SA: append([]SAAnswer(nil), s.SA...),
	}
	for i, tf := range s.TF {
		out.TF[i] = TFAnswer{
			Index: tf.Index,
			A:     cloneBool(tf.A),
			B:     cloneBool(tf.B),
			C:     cloneBool(tf.C),
			D:     cloneBool(tf.D),
		}
	}
	return out
}

// Apply mutates the state with a single edit.
func (s *AnswerState) Apply(in AnswerInput) error {
	if in.Index < 0 {
		return ErrInvalidAnswer
	}

	switch in.Kind {
	case QuestionKindMC:
		for len(s.MC) <= in.Index {
			s.MC = append(s.MC, "")
		}
		if in.Choice == nil {
			s.MC[in.Index] = ""
		} else {
			s.MC[in.Index] = strings.ToUpper(strings.TrimSpace(*in.Choice))
		}
		return nil

	case QuestionKindTF:
		tf := s.tfAnswer(in.Index)
		var truth *bool
		if in.Truth != nil {
			truth = cloneBool(in.Truth)
		}
		switch in.Statement {
		case "a":
			tf.A = truth
		case "b":
			tf.B = truth
		case "c":
			tf.C = truth
		case "d":
			tf.D = truth
		default:
			return ErrInvalidAnswer
		}
		return nil

	case QuestionKindSA:
		value := ""
		if in.Text != nil {
			value = *in.Text
		}
		for i := range s.SA {
			if s.SA[i].Index == in.Index {
				s.SA[i].Value = value
				return nil
			}
		}
		s.SA = append(s.SA, SAAnswer{Index: in.Index, Value: value})
		sort.Slice(s.SA, func(i, j int) bool { return s.SA[i].Index < s.SA[j].Index })
		return nil
	}

	return ErrInvalidAnswer
}

// AnsweredCount returns how many questions have at least a partial answer.
func (s AnswerState) AnsweredCount() int {
	n := 0
	for _, c := range s.MC {
		if c != "" {
			n++
		}
	}
	for _, tf := range s.TF {
		if tf.A != nil || tf.B != nil || tf.C != nil || tf.D != nil {
			n++
		}
	}
	for _, sa := range s.SA {
		if strings.TrimSpace(sa.Value) != "" {
			n++
		}
	}
	return n
}

func (s *AnswerState) tfAnswer(index int) *TFAnswer {
	for i := range s.TF {
		if s.TF[i].Index == index {
			return &s.TF[i]
		}
	}
	s.TF = append(s.TF, TFAnswer{Index: index})
	sort.Slice(s.TF, func(i, j int) bool { return s.TF[i].Index < s.TF[j].Index })
	for i := range s.TF {
		if s.TF[i].Index == index {
			return &s.TF[i]
		}
	}
	return nil
}

func cloneBool(b *bool) *bool {
	if b == nil {
		return nil
	}
	v := *b
	return &v
}
