package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stemsi/exstem-engine/internal/model"
	"github.com/stemsi/exstem-engine/internal/response"
	"github.com/stemsi/exstem-engine/internal/service"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func TestRateLimiterBurst(t *testing.T) {
	rl := NewRateLimiter(3, time.Minute)
	for i := 0; i < 3; i++ {
		if !rl.Allow("k") {
			t.Fatalf("request %d rejected inside burst", i)
		}
	}
	if rl.Allow("k") {
		t.Fatal("request over burst allowed")
	}
	if !rl.Allow("other") {
		t.Fatal("keys must not share a bucket")
	}
}

func TestRateLimiterMiddlewareSetsRetryAfter(t *testing.T) {
	rl := NewRateLimiter(1, 2*time.Second)
	r := gin.New()
	r.GET("/x", rl.Middleware(), func(c *gin.Context) { c.Status(http.StatusNoContent) })

	codes := make([]int, 2)
	var retry string
	for i := range codes {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/x", nil))
		codes[i] = w.Code
		retry = w.Header().Get("Retry-After")
	}
	if codes[0] != http.StatusNoContent || codes[1] != http.StatusTooManyRequests {
		t.Fatalf("codes = %v", codes)
	}
	if retry != "2" {
		t.Fatalf("Retry-After = %q, want 2", retry)
	}
}

func TestRateLimiterSweep(t *testing.T) {
	rl := NewRateLimiter(1, time.Second)
	rl.Allow("k")
	rl.sweep(time.Now().Add(time.Hour))
	if len(rl.visitors) != 0 {
		t.Fatalf("visitors = %d after sweep", len(rl.visitors))
	}
}

func TestRequireStudentJWT(t *testing.T) {
	auth := service.NewAuthService("test-secret")
	student, _ := auth.IssueToken(service.TokenTypeStudent, 11, time.Hour)
	admin, _ := auth.IssueToken(service.TokenTypeAdmin, 1, time.Hour)
	expired, _ := auth.IssueToken(service.TokenTypeStudent, 11, -time.Minute)
	anonymous, _ := auth.IssueToken(service.TokenTypeStudent, 0, time.Hour)

	r := gin.New()
	r.GET("/x", RequireStudentJWT(auth), func(c *gin.Context) {
		c.String(http.StatusOK, "%d", GetClaims(c).UserID)
	})

	tests := []struct {
		name   string
		header string
		want   int
		code   response.ErrCode
	}{
		{"missing", "", http.StatusUnauthorized, response.ErrTokenRequired},
		{"wrong scheme", "Basic " + student, http.StatusUnauthorized, response.ErrTokenRequired},
		{"garbage", "Bearer abc", http.StatusUnauthorized, response.ErrTokenInvalid},
		{"expired", "Bearer " + expired, http.StatusUnauthorized, response.ErrTokenInvalid},
		{"no user id", "Bearer " + anonymous, http.StatusUnauthorized, response.ErrTokenInvalid},
		{"admin token", "Bearer " + admin, http.StatusForbidden, response.ErrStudentAccessOnly},
		{"student", "Bearer " + student, http.StatusOK, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/x", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)
			if w.Code != tt.want {
				t.Fatalf("status = %d, want %d", w.Code, tt.want)
			}
			if tt.code != "" && !strings.Contains(w.Body.String(), string(tt.code)) {
				t.Fatalf("body %s lacks code %s", w.Body.String(), tt.code)
			}
		})
	}
}

func TestRequireStudentWSAuthReadsQueryOnly(t *testing.T) {
	auth := service.NewAuthService("test-secret")
	student, _ := auth.IssueToken(service.TokenTypeStudent, 11, time.Hour)

	r := gin.New()
	r.GET("/ws", RequireStudentWSAuth(auth), func(c *gin.Context) {
		c.Status(http.StatusNoContent)
	})

	req := httptest.NewRequest(http.MethodGet, "/ws", nil)
	req.Header.Set("Authorization", "Bearer "+student)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("header token: status = %d, want 401", w.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/ws?token="+student, nil)
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusNoContent {
		t.Fatalf("query token: status = %d, want 204", w.Code)
	}
}

func TestRequirePermission(t *testing.T) {
	auth := service.NewAuthService("test-secret")
	withPerm, _ := auth.IssueToken(service.TokenTypeAdmin, 1, time.Hour, "exams:monitor")
	without, _ := auth.IssueToken(service.TokenTypeAdmin, 2, time.Hour)

	r := gin.New()
	r.GET("/m", RequireAdminJWT(auth), RequirePermission(model.PermissionExamsMonitor), func(c *gin.Context) {
		c.Status(http.StatusNoContent)
	})

	for tok, want := range map[string]int{withPerm: http.StatusNoContent, without: http.StatusForbidden} {
		req := httptest.NewRequest(http.MethodGet, "/m?token="+tok, nil)
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		if w.Code != want {
			t.Errorf("status = %d, want %d", w.Code, want)
		}
	}
}
