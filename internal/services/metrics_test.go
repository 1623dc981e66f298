package services_test

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/chat-omega/fundonboarding/internal/models"
	"github.com/chat-omega/fundonboarding/internal/services"
)

func TestMetricsExposition(t *testing.T) {
	metrics := services.NewMetrics()
	metrics.CacheHit("memory")
	metrics.CacheHit("memory")
	metrics.CacheMiss()
	metrics.CacheEviction("disk", 3)
	metrics.StageTransition(models.StageGreeting, models.StageFileUploaded)
	metrics.AgentError(models.AgentTypeResearch, "")
	metrics.SessionOpened()

	recorder := httptest.NewRecorder()
	metrics.Handler().ServeHTTP(recorder, httptest.NewRequest("GET", "/metrics", nil))
	body, _ := io.ReadAll(recorder.Body)
	text := string(body)

	for _, want := range []string{
		`fundonboarding_cache_hits_total{tier="memory"} 2`,
		`fundonboarding_cache_misses_total 1`,
		`fundonboarding_cache_evictions_total{tier="disk"} 3`,
		`fundonboarding_session_stage_transitions_total{from="greeting",to="file_uploaded"} 1`,
		`fundonboarding_agent_errors_total{agent="research",code="UNKNOWN"} 1`,
		`fundonboarding_session_active 1`,
	} {
		if !strings.Contains(text, want) {
			t.Errorf("Expected exposition to contain %q", want)
		}
	}
}
