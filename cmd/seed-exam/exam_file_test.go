package main

import (
	"strings"
	"testing"
)

const sampleExam = `
title: Try Out Fisika
duration_minutes: 90
max_attempts: 2
starts_at: 2026-05-04T07:30:00+07:00
ends_at: 2026-05-04T12:00:00+07:00
policy:
  demotion_threshold: 3
  max_violations: 6
mc: [A, c, B, D]
tf:
  - {a: true, b: false, c: true, d: false}
sa: ["42", 6.02e23]
`

func TestParseExamFile(t *testing.T) {
	def, key, err := parseExamFile([]byte(sampleExam))
	if err != nil {
		t.Fatalf("parseExamFile: %v", err)
	}
	if def.DurationSeconds != 5400 || def.MaxAttempts != 2 || def.TotalQuestions() != 7 {
		t.Fatalf("def = %+v", def)
	}
	if def.Policy == nil || def.Policy.DemotionThreshold != 3 || def.Policy.MaxViolations != 6 {
		t.Fatalf("policy = %+v", def.Policy)
	}
	if def.StartsAt == nil || def.EndsAt == nil || !def.EndsAt.After(*def.StartsAt) {
		t.Fatal("window not parsed")
	}
	if key.MC[1] != "C" {
		t.Errorf("mc[1] = %q, want upper-cased C", key.MC[1])
	}
	if !key.TF[0].A || key.TF[0].B {
		t.Errorf("tf[0] = %+v", key.TF[0])
	}
	if key.SA[0] != "42" || key.SA[1] != "6.02e23" {
		t.Errorf("sa = %+v", key.SA)
	}
}

func TestParseExamFileRejects(t *testing.T) {
	tests := []struct {
		name, yaml, want string
	}{
		{"no title", "duration_minutes: 10\nmc: [A]", "title"},
		{"no duration", "title: x\nmc: [A]", "duration"},
		{"no questions", "title: x\nduration_minutes: 10", "no questions"},
		{"bad letter", "title: x\nduration_minutes: 10\nmc: [Z]", "mc[0]"},
		{"empty sa", "title: x\nduration_minutes: 10\nsa: ['']", "sa[0]"},
		{"bad window", "title: x\nduration_minutes: 10\nmc: [A]\nstarts_at: 2026-05-04T10:00:00Z\nends_at: 2026-05-04T09:00:00Z", "ends_at"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := parseExamFile([]byte(tt.yaml))
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("err = %v, want mention of %q", err, tt.want)
			}
		})
	}
}
