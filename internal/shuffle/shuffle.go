// Package shuffle derives the per-student question order of an exam.
//
// The order is a pure function of (examID, studentID): no clock, no global
// randomness. A reloaded or resumed session must show exactly the order it
// showed before, on any node and after any restart.
package shuffle

import (
	"math/bits"
	"math/rand/v2"

	"github.com/cespare/xxhash/v2"
	"github.com/stemsi/exstem-engine/internal/model"
)

// pcgIncrement is the fixed stream selector of the PCG generator.
const pcgIncrement = 0x9e3779b97f4a7c15

// Order returns a permutation of [0, n) for the given exam and student.
func Order(examID, studentID string, n int) []int {
	return OrderFor(examID, studentID, "", n)
}

// OrderFor is Order salted with a section name, so question groups of the same
// size are not permuted identically.
func OrderFor(examID, studentID, section string, n int) []int {
	if n <= 0 {
		return []int{}
	}

	perm := make([]int, n)
	for i := range perm {
		perm[i] = i
	}

	src := rand.NewPCG(Seed(examID, studentID, section), pcgIncrement)

	// Fisher-Yates, back to front.
	for i := n - 1; i > 0; i-- {
		j := boundedIndex(src.Uint64(), uint64(i+1))
		perm[i], perm[j] = perm[j], perm[i]
	}
	return perm
}

// Seed hashes the identifying strings into the generator seed.
func Seed(examID, studentID, section string) uint64 {
	d := xxhash.New()
	_, _ = d.WriteString(examID)
	_, _ = d.WriteString("\x00")
	_, _ = d.WriteString(studentID)
	if section != "" {
		_, _ = d.WriteString("\x00")
		_, _ = d.WriteString(section)
	}
	return d.Sum64()
}

// boundedIndex maps a raw 64-bit draw into [0, bound) by multiply-shift.
func boundedIndex(x, bound uint64) int {
	hi, _ := bits.Mul64(x, bound)
	return int(hi)
}

// Paper returns the questions of def in the order the student sees them:
// the MC group, then TF, then SA, each group permuted independently.
func Paper(def *model.ExamDefinition, studentID string) []model.QuestionRef {
	examID := def.ID.String()
	refs := make([]model.QuestionRef, 0, def.TotalQuestions())

	for _, kind := range []model.QuestionKind{model.QuestionKindMC, model.QuestionKindTF, model.QuestionKindSA} {
		group := def.Group(kind)
		for _, pos := range OrderFor(examID, studentID, string(kind), len(group)) {
			refs = append(refs, model.QuestionRef{Kind: kind, Index: group[pos].Index})
		}
	}
	return refs
}
