package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestSanitizeSite(t *testing.T) {
	testCases := []struct {
		name     string
		input    string
		expected string
	}{
		{"standard https", "https://WWW.cls.cn/detail/1", "www.cls.cn"},
		{"no scheme", "m.cls.cn/detail/1", "m.cls.cn"},
		{"host with port", "cls.cn:8080", "cls.cn"},
		{"invalid url", "http://%", "unknown"},
		{"empty string", "", "unknown"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if got := SanitizeSite(tc.input); got != tc.expected {
				t.Errorf("SanitizeSite(%q) = %q; want %q", tc.input, got, tc.expected)
			}
		})
	}
}

func TestInitIdempotent(t *testing.T) {
	Init()
	Init()

	if renderTotal == nil || extractionsTotal == nil || httpRequestsTotal == nil || redirectsDetectedTotal == nil {
		t.Fatal("Init() did not initialize metrics collectors")
	}
}

func TestObserveHelpers(t *testing.T) {
	Init()

	beforeRender := testutil.ToFloat64(renderTotal.WithLabelValues("raw", "ok"))
	ObserveRender("raw", "ok", 2*time.Second)
	if got := testutil.ToFloat64(renderTotal.WithLabelValues("raw", "ok")); got != beforeRender+1 {
		t.Errorf("render counter = %f, want %f", got, beforeRender+1)
	}

	beforeRedirect := testutil.ToFloat64(redirectsDetectedTotal)
	ObserveRedirect()
	if got := testutil.ToFloat64(redirectsDetectedTotal); got != beforeRedirect+1 {
		t.Errorf("redirect counter = %f, want %f", got, beforeRedirect+1)
	}

	beforeExtract := testutil.ToFloat64(extractionsTotal.WithLabelValues("dom", "false"))
	ObserveExtraction("dom", false)
	if got := testutil.ToFloat64(extractionsTotal.WithLabelValues("dom", "false")); got != beforeExtract+1 {
		t.Errorf("extraction counter = %f, want %f", got, beforeExtract+1)
	}

	ObservePacingDelay("www.cls.cn", 500*time.Millisecond)
	if testutil.CollectAndCount(pacingDelaysSeconds) == 0 {
		t.Error("expected pacing delay histogram to be observed")
	}
}
