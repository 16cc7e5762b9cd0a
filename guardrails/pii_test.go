package guardrails

import (
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDetectPII_SingleTypes(t *testing.T) {
	tests := []struct {
		name      string
		query     string
		types     []PIIType
		wantType  PIIType
		wantMatch string
	}{
		{
			name:      "email",
			query:     "Contact me at jane@example.com",
			types:     []PIIType{PIITypeEmail},
			wantType:  PIITypeEmail,
			wantMatch: "jane@example.com",
		},
		{
			name:      "phone",
			query:     "Call 555-123-4567 now",
			types:     []PIIType{PIITypePhone},
			wantType:  PIITypePhone,
			wantMatch: "555-123-4567",
		},
		{
			name:      "ssn",
			query:     "my ssn is 123-45-6789 ok",
			types:     []PIIType{PIITypeSSN},
			wantType:  PIITypeSSN,
			wantMatch: "123-45-6789",
		},
		{
			name:      "credit card",
			query:     "card 4111 1111 1111 1111 expires soon",
			types:     []PIIType{PIITypeCreditCard},
			wantType:  PIITypeCreditCard,
			wantMatch: "4111 1111 1111 1111",
		},
		{
			name:      "api key",
			query:     "use sk-abcdefghij0123456789 for auth",
			types:     []PIIType{PIITypeAPIKey},
			wantType:  PIITypeAPIKey,
			wantMatch: "sk-abcdefghij0123456789",
		},
		{
			name:      "ip address",
			query:     "server at 192.168.10.42 is down",
			types:     []PIIType{PIITypeIPAddress},
			wantType:  PIITypeIPAddress,
			wantMatch: "192.168.10.42",
		},
		{
			name:      "url",
			query:     "see https://internal.example.com/report",
			types:     []PIIType{PIITypeURL},
			wantType:  PIITypeURL,
			wantMatch: "https://internal.example.com/report",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			detections := DetectPII(tt.query, tt.types)
			require.Len(t, detections, 1)
			d := detections[0]
			assert.Equal(t, tt.wantType, d.Type)
			assert.Equal(t, tt.wantMatch, d.Match)
			assert.Equal(t, tt.wantMatch, tt.query[d.StartIndex:d.EndIndex])
		})
	}
}

func TestDetectPII_SortedDescendingByStart(t *testing.T) {
	query := "Email a@b.co or visit https://example.com/x"
	detections := DetectPII(query, []PIIType{PIITypeEmail, PIITypeURL})
	require.Len(t, detections, 2)

	assert.True(t, sort.SliceIsSorted(detections, func(i, j int) bool {
		return detections[i].StartIndex > detections[j].StartIndex
	}), "detections must be sorted by start index descending")
	assert.Equal(t, PIITypeURL, detections[0].Type)
	assert.Equal(t, PIITypeEmail, detections[1].Type)
}

func TestDetectPII_NoMatches(t *testing.T) {
	detections := DetectPII("completely harmless analytics question", nil)
	assert.Empty(t, detections)
}

func TestRedactPII(t *testing.T) {
	t.Run("single redaction", func(t *testing.T) {
		query := "Contact me at jane@example.com"
		detections := DetectPII(query, []PIIType{PIITypeEmail})
		assert.Equal(t, "Contact me at [REDACTED]", RedactPII(query, detections))
	})

	t.Run("multiple redactions right to left", func(t *testing.T) {
		query := "Email a@b.co or visit https://example.com/x"
		detections := DetectPII(query, []PIIType{PIITypeEmail, PIITypeURL})
		assert.Equal(t, "Email [REDACTED] or visit [REDACTED]", RedactPII(query, detections))
	})

	t.Run("length law holds for non overlapping detections", func(t *testing.T) {
		query := "a@b.co and c@d.org plus e@f.net"
		detections := DetectPII(query, []PIIType{PIITypeEmail})
		require.Len(t, detections, 3)

		redacted := RedactPII(query, detections)
		matchLen := 0
		for _, d := range detections {
			matchLen += d.EndIndex - d.StartIndex
		}
		assert.Equal(t, len(query)-matchLen+len(detections)*len(RedactionPlaceholder), len(redacted))
	})

	t.Run("out of range indices never panic", func(t *testing.T) {
		assert.NotPanics(t, func() {
			RedactPII("short", []PIIDetection{
				{StartIndex: 100, EndIndex: 200},
				{StartIndex: -5, EndIndex: 3},
				{StartIndex: 2, EndIndex: 9999},
			})
		})
	})

	t.Run("overlapping detections never panic", func(t *testing.T) {
		query := "abcdefghij"
		assert.NotPanics(t, func() {
			RedactPII(query, []PIIDetection{
				{StartIndex: 5, EndIndex: 10},
				{StartIndex: 0, EndIndex: 8},
			})
		})
	})
}

func TestCheckPII(t *testing.T) {
	t.Run("no pii passes", func(t *testing.T) {
		res := CheckPII("clean question", nil, false)
		assert.True(t, res.Passed)
	})

	t.Run("pii without redaction is a violation", func(t *testing.T) {
		res := CheckPII("reach me at jane@example.com", nil, false)
		require.False(t, res.Passed)
		assert.Equal(t, ViolationPIIDetected, res.ViolationType)
		assert.Equal(t, SeverityHigh, res.Severity)
		byType := res.Details["by_type"].(map[string]int)
		assert.Equal(t, 1, byType["email"])
	})

	t.Run("already redacted suppresses the violation", func(t *testing.T) {
		res := CheckPII("reach me at jane@example.com", nil, true)
		assert.True(t, res.Passed)
	})
}
