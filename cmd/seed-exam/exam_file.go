package main

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/stemsi/exstem-engine/internal/model"
	"gopkg.in/yaml.v3"
)

// examFile is the YAML layout of a seeded exam. Question indexes are the
// positions in each list.
type examFile struct {
	Title           string        `yaml:"title"`
	DurationMinutes int           `yaml:"duration_minutes"`
	MaxAttempts     int           `yaml:"max_attempts"`
	StartsAt        *time.Time    `yaml:"starts_at"`
	EndsAt          *time.Time    `yaml:"ends_at"`
	Policy          *model.Policy `yaml:"policy"`
	MC              []string      `yaml:"mc"`
	TF              []model.TFKey `yaml:"tf"`
	SA              []string      `yaml:"sa"`
}

func readExamFile(path string) (*model.ExamDefinition, *model.AnswerKey, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, err
	}
	return parseExamFile(data)
}

func parseExamFile(data []byte) (*model.ExamDefinition, *model.AnswerKey, error) {
	var f examFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, nil, fmt.Errorf("parse exam file: %w", err)
	}

	switch {
	case strings.TrimSpace(f.Title) == "":
		return nil, nil, errors.New("title is required")
	case f.DurationMinutes <= 0:
		return nil, nil, errors.New("duration_minutes must be positive")
	case len(f.MC)+len(f.TF)+len(f.SA) == 0:
		return nil, nil, errors.New("exam has no questions")
	case f.StartsAt != nil && f.EndsAt != nil && !f.EndsAt.After(*f.StartsAt):
		return nil, nil, errors.New("ends_at must be after starts_at")
	}

	def := &model.ExamDefinition{
		Title:           f.Title,
		DurationSeconds: f.DurationMinutes * 60,
		MaxAttempts:     f.MaxAttempts,
		StartsAt:        f.StartsAt,
		EndsAt:          f.EndsAt,
		Policy:          f.Policy,
	}
	key := &model.AnswerKey{
		MC: make(map[int]string, len(f.MC)),
		TF: make(map[int]model.TFKey, len(f.TF)),
		SA: make(map[int]model.KeyValue, len(f.SA)),
	}

	for i, letter := range f.MC {
		letter = strings.ToUpper(strings.TrimSpace(letter))
		if len(letter) != 1 || letter[0] < 'A' || letter[0] > 'E' {
			return nil, nil, fmt.Errorf("mc[%d]: choice must be a letter A-E, got %q", i, letter)
		}
		def.MCQuestions = append(def.MCQuestions, model.QuestionSlot{Index: i})
		key.MC[i] = letter
	}
	for i, tf := range f.TF {
		def.TFQuestions = append(def.TFQuestions, model.QuestionSlot{Index: i})
		key.TF[i] = tf
	}
	for i, v := range f.SA {
		v = strings.TrimSpace(v)
		if v == "" {
			return nil, nil, fmt.Errorf("sa[%d]: key is empty", i)
		}
		def.SAQuestions = append(def.SAQuestions, model.QuestionSlot{Index: i})
		key.SA[i] = model.KeyValue(v)
	}
	return def, key, nil
}
