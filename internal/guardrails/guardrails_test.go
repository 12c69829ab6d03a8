package guardrails_test

import (
	"testing"

	"github.com/salonflow/controlplane/internal/guardrails"
)

func TestClassify_SalonQueryAllowed(t *testing.T) {
	v := guardrails.Classify("Can I book a haircut appointment for Saturday morning?")
	if !v.Allowed {
		t.Errorf("Classify() Allowed = false, want true; reason=%q", v.Reason)
	}
}

func TestClassify_OffTopicRejected(t *testing.T) {
	v := guardrails.Classify("What is the latest cricket match score between India and Australia?")
	if v.Allowed {
		t.Errorf("Classify() Allowed = true, want false; reason=%q", v.Reason)
	}
}

func TestClassify_ShortGreetingAllowed(t *testing.T) {
	v := guardrails.Classify("hi there")
	if !v.Allowed {
		t.Errorf("Classify() Allowed = false, want true for short greeting")
	}
}

func TestClassify_EmptyQueryRejected(t *testing.T) {
	v := guardrails.Classify("   ")
	if v.Allowed {
		t.Error("Classify() Allowed = true, want false for empty query")
	}
}

func TestClassify_MixedTopicsComparesCounts(t *testing.T) {
	// One salon keyword (haircut), two blocked keywords (cricket, movie).
	v := guardrails.Classify("Can we talk about cricket and the new movie instead of my haircut?")
	if v.Allowed {
		t.Errorf("Classify() Allowed = true, want false when blocked > allowed; got %+v", v)
	}
}

func TestDetectLanguage(t *testing.T) {
	cases := []struct {
		text string
		want string
	}{
		{"book a haircut please", "en"},
		{"मुझे बाल कटवाने हैं", "hi"},
		{"నాకు హెయిర్ కట్ కావాలి", "te"},
	}
	for _, c := range cases {
		if got := guardrails.DetectLanguage(c.text); got != c.want {
			t.Errorf("DetectLanguage(%q) = %q, want %q", c.text, got, c.want)
		}
	}
}

func TestRejectionResponse_FallsBackToEnglish(t *testing.T) {
	resp := guardrails.RejectionResponse("fr")
	if resp == "" {
		t.Fatal("RejectionResponse() returned empty string")
	}
	if want := guardrails.RejectionResponse("en"); resp != want {
		t.Errorf("RejectionResponse(%q) = %q, want the English response %q", "fr", resp, want)
	}
}
