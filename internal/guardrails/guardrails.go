// Package guardrails keeps every agent answering salon-related queries only.
// It classifies a query by counting salon-domain keyword hits against
// off-topic keyword hits, detects the caller's language from script, and
// returns a localized redirect when a query is rejected.
package guardrails

import (
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/language"
)

// allowedTopics are salon-domain keywords. A query matching one or more of
// these, with no more blocked-topic hits than allowed-topic hits, passes.
var allowedTopics = []string{
	"haircut", "hair", "styling", "color", "treatment", "spa",
	"facial", "makeup", "bridal", "groom", "beard", "shave",
	"manicure", "pedicure", "waxing", "threading", "keratin",
	"rebonding", "smoothening", "highlights", "lowlights",
	"blowout", "curls", "straightening", "perm", "balayage",
	"booking", "appointment", "schedule", "availability",
	"slot", "reservation", "cancel", "reschedule",
	"waitlist", "queue", "reminder",
	"service", "price", "offer", "discount", "package",
	"stylist", "staff", "salon", "beauty", "wellness",
	"loyalty", "membership", "points", "feedback",
	"location", "timing", "contact", "hours",
	"inventory", "product", "shampoo", "conditioner",
	"serum", "oil", "cream", "gel", "spray", "mask",
	"reorder", "expiry", "supply", "usage",
	"customer", "client", "profile", "history", "preference",
	"visit", "retention", "churn", "winback", "reengage",
	"at-risk", "lapsed", "segment",
	"pricing", "revenue", "demand", "peak", "off-peak",
	"festival", "seasonal", "bundle", "combo", "upsell",
	"addon", "upgrade", "promotion", "campaign",
	"shift", "roster", "overtime", "time-off",
	"skill", "assignment",
	"analytics", "report", "dashboard", "metric", "kpi",
	"performance", "trend", "forecast",
	"hello", "hi", "hey", "namaste", "assist",
	"thank", "please", "sorry", "welcome",
}

// blockedTopics are keywords for domains the salon assistant never answers.
var blockedTopics = []string{
	"politics", "election", "government", "minister", "party",
	"democracy", "vote", "policy",
	"cricket", "football", "soccer", "tennis", "basketball",
	"sports", "match", "score", "ipl", "world cup", "olympics",
	"movie", "film", "actor", "actress", "celebrity",
	"bollywood", "hollywood", "song", "concert",
	"netflix", "amazon prime", "tv show",
	"news", "weather", "climate", "earthquake", "flood", "storm",
	"programming", "coding", "python", "javascript", "java",
	"software", "website", "database",
	"api", "server", "docker", "kubernetes",
	"machine learning", "artificial intelligence",
	"write code", "developer",
	"stock market", "share", "investment", "trading",
	"bitcoin", "cryptocurrency", "crypto", "forex",
	"banking", "loan", "insurance", "tax",
	"cooking", "recipe", "restaurant",
	"biryani", "curry",
	"travel", "vacation", "flight", "hotel",
	"religion", "temple", "church", "mosque",
	"school", "college", "university",
	"medicine", "doctor", "hospital", "disease",
}

var (
	allowedPatterns = compileWordPatterns(allowedTopics)
	blockedPatterns = compileWordPatterns(blockedTopics)
)

func compileWordPatterns(topics []string) []*regexp.Regexp {
	patterns := make([]*regexp.Regexp, len(topics))
	for i, topic := range topics {
		patterns[i] = regexp.MustCompile(`(?i)\b` + regexp.QuoteMeta(topic) + `\b`)
	}
	return patterns
}

// rejectionResponses holds the base refusal message per detected language.
var rejectionResponses = map[string]string{
	"en": "I'm your salon assistant! I can only help with salon services, bookings, and beauty-related queries. How can I assist you with your salon needs today?",
	"hi": "मैं आपका सैलून असिस्टेंट हूं! मैं केवल सैलून सेवाओं, बुकिंग और ब्यूटी संबंधी queries में मदद कर सकता हूं। आज मैं आपकी सैलून जरूरतों में कैसे मदद कर सकता हूं?",
	"te": "నేను మీ సెలూన్ అసిస్టెంట్! నేను సెలూన్ సేవలు, బుకింగ్‌లు మరియు అందం సంబంధిత ప్రశ్నలలో మాత్రమే సహాయం చేయగలను. ఈరోజు మీ సెలూన్ అవసరాలలో నేను ఎలా సహాయం చేయగలను?",
}

const redirectMessage = "\n\nI can help you with:\n- Booking appointments\n- Service information and pricing\n- Stylist recommendations\n- Offers and packages\n- Loyalty points and memberships\n\nHow can I help you today?"

// SystemPromptSuffix is appended to every agent's system prompt so the
// underlying model reinforces the same restriction the guardrail enforces
// mechanically.
const SystemPromptSuffix = `
IMPORTANT: You are a salon assistant ONLY. You must:
1. ONLY respond to queries related to salon services, beauty, hair, and wellness
2. Politely decline any questions about politics, sports, news, technology, or unrelated topics
3. Redirect users back to salon services with helpful suggestions
4. Never provide information outside your salon expertise`

// Verdict is the result of classifying one query.
type Verdict struct {
	Allowed      bool
	Reason       string
	AllowedCount int
	BlockedCount int
	Language     string // BCP-47 tag: "en", "hi", "te"
}

// Classify decides whether a query is in-scope for the salon assistant.
//
// Short queries (greetings, yes/no) are always allowed. Otherwise the
// allowed/blocked keyword counts are compared: blocked topics with no
// salon topics reject outright, and blocked topics outnumbering salon
// topics reject; ties and ambiguous queries (no keyword hits either way)
// are allowed, since rejecting an unrecognized-but-legitimate query is a
// worse outcome than occasionally letting an off-topic one through.
func Classify(query string) Verdict {
	trimmed := strings.TrimSpace(query)
	lang := DetectLanguage(trimmed)

	if trimmed == "" {
		return Verdict{Allowed: false, Reason: "empty query", Language: lang}
	}

	if len(strings.Fields(trimmed)) <= 2 {
		return Verdict{Allowed: true, Reason: "short query allowed", Language: lang}
	}

	allowedCount := countMatches(allowedPatterns, trimmed)
	blockedCount := countMatches(blockedPatterns, trimmed)

	if blockedCount > 0 && allowedCount == 0 {
		return Verdict{
			Allowed: false, Reason: "blocked topics detected, no salon topics",
			AllowedCount: allowedCount, BlockedCount: blockedCount, Language: lang,
		}
	}

	if allowedCount > 0 {
		if blockedCount > allowedCount {
			return Verdict{
				Allowed: false, Reason: "blocked topics outnumber salon topics",
				AllowedCount: allowedCount, BlockedCount: blockedCount, Language: lang,
			}
		}
		return Verdict{
			Allowed: true, Reason: "salon-related query",
			AllowedCount: allowedCount, BlockedCount: blockedCount, Language: lang,
		}
	}

	return Verdict{Allowed: true, Reason: "ambiguous but allowed", Language: lang}
}

func countMatches(patterns []*regexp.Regexp, text string) int {
	count := 0
	for _, p := range patterns {
		if p.MatchString(text) {
			count++
		}
	}
	return count
}

// DetectLanguage returns a BCP-47 tag based on the Unicode scripts present
// in text: any Devanagari rune maps to "hi", otherwise any Telugu rune to
// "te", everything else to "en". The tag is the String() of the matching
// golang.org/x/text/language constant.
func DetectLanguage(text string) string {
	for _, r := range text {
		if unicode.In(r, unicode.Devanagari) {
			return language.Hindi.String()
		}
	}
	for _, r := range text {
		if unicode.In(r, unicode.Telugu) {
			return language.Telugu.String()
		}
	}
	return language.English.String()
}

// RejectionResponse returns the localized decline message plus the
// redirect suggestions, for the given (already-detected) language.
func RejectionResponse(language string) string {
	base, ok := rejectionResponses[language]
	if !ok {
		base = rejectionResponses["en"]
	}
	return base + redirectMessage
}
