package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"
)

func scrape(t *testing.T) string {
	t.Helper()
	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	if ct := rec.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/plain") {
		t.Fatalf("unexpected content type %q", ct)
	}
	body, _ := io.ReadAll(rec.Body)
	return string(body)
}

func TestMetrics_MessagesAndSessions(t *testing.T) {
	UserMessages.Inc()
	AssistantMessages.Add(2)
	ActiveSessions.Inc()
	ActiveSessions.Inc()
	ActiveSessions.Dec()

	out := scrape(t)
	for _, want := range []string{
		`lumos_messages_total{author="assistant"} 2`,
		`lumos_messages_total{author="user"} 1`,
		"lumos_active_sessions 1",
		"# TYPE lumos_uptime_seconds gauge",
	} {
		if !strings.Contains(out, want) {
			t.Fatalf("missing %q in:\n%s", want, out)
		}
	}
	if strings.Count(out, "# HELP lumos_messages_total") != 1 {
		t.Fatalf("family header must appear once:\n%s", out)
	}
}

func TestMetrics_IntentLabelIsEscaped(t *testing.T) {
	IntentRouted(`say "hi"`).Inc()
	IntentRouted("contact").Inc()

	out := scrape(t)
	if !strings.Contains(out, `lumos_intents_total{intent="say \"hi\""} 1`) {
		t.Fatalf("quoted rule name must be escaped:\n%s", out)
	}
	if !strings.Contains(out, `lumos_intents_total{intent="contact"} 1`) {
		t.Fatalf("missing contact intent:\n%s", out)
	}
}

func TestMetrics_ReplyLatency(t *testing.T) {
	ReplyLatency.Observe(0.25)
	ReplyLatency.Observe(0.75)
	ReplyLatency.Observe(3)

	want := `lumos_reply_latency_seconds_bucket{le="0.5"} 1
lumos_reply_latency_seconds_bucket{le="1"} 2
lumos_reply_latency_seconds_bucket{le="1.5"} 2
lumos_reply_latency_seconds_bucket{le="2"} 2
lumos_reply_latency_seconds_bucket{le="5"} 3
lumos_reply_latency_seconds_bucket{le="10"} 3
lumos_reply_latency_seconds_bucket{le="+Inf"} 3
lumos_reply_latency_seconds_sum 4
lumos_reply_latency_seconds_count 3
`
	if out := scrape(t); !strings.Contains(out, want) {
		t.Fatalf("unexpected histogram:\n%s", out)
	}
}
