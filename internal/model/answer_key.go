package model

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// TFKey is the expected truth value of each of the four statements of a
// true/false question.
type TFKey struct {
	A bool `json:"a"`
	B bool `json:"b"`
	C bool `json:"c"`
	D bool `json:"d"`
}

// KeyValue is a short-answer key. It decodes from either a JSON string or a
// JSON number and keeps the literal text.
type KeyValue string

// UnmarshalJSON accepts "10", 10 and 10.5 alike.
func (k *KeyValue) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*k = ""
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*k = KeyValue(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("short answer key must be string or number: %w", err)
	}
	*k = KeyValue(n.String())
	return nil
}

// AnswerKey is the server-only solution of an exam. It must never be
// serialized into anything a student can observe.
type AnswerKey struct {
	MC map[int]string   `json:"mc"`
	TF map[int]TFKey    `json:"tf"`
	SA map[int]KeyValue `json:"sa"`
}

// Size returns the number of keyed questions.
func (k *AnswerKey) Size() int {
	return len(k.MC) + len(k.TF) + len(k.SA)
}
