package config

import "testing"

func TestCacheKeys(t *testing.T) {
	const exam = "6f1c"
	tests := []struct {
		got, want string
	}{
		{CacheKey.StudentAnswersKey(exam, 42), "student:42:exam:6f1c:answers"},
		{CacheKey.ExamDefinitionKey(exam), "exam:6f1c:definition"},
		{CacheKey.ExamAnswerKey(exam), "exam:6f1c:key"},
		{CacheKey.ExamMonitorChannel(exam), "exam:6f1c:monitor"},
	}
	for _, tt := range tests {
		if tt.got != tt.want {
			t.Errorf("key = %q, want %q", tt.got, tt.want)
		}
	}
}
