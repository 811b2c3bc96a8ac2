package ai

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseSegmentResponse_ValidNonFinal(t *testing.T) {
	raw := `{"story": "The dragon sneezed.", "question": "What next?", "choices": ["Run", "Hide", "Laugh"]}`

	payload := ParseSegmentResponse(raw, false)

	assert.Equal(t, "The dragon sneezed.", payload.Story)
	assert.Equal(t, "What next?", payload.Question)
	assert.Equal(t, []string{"Run", "Hide", "Laugh"}, payload.Choices)
}

func TestParseSegmentResponse_ValidFinal(t *testing.T) {
	payload := ParseSegmentResponse(`{"story": "The end."}`, true)

	assert.Equal(t, "The end.", payload.Story)
	assert.Empty(t, payload.Question)
	assert.Nil(t, payload.Choices)
}

func TestParseSegmentResponse_FinalIgnoresExtraKeys(t *testing.T) {
	raw := `{"story": "The end.", "question": "More?", "choices": ["Yes", "No", "Maybe"]}`

	payload := ParseSegmentResponse(raw, true)

	assert.Equal(t, "The end.", payload.Story)
	assert.Empty(t, payload.Question)
	assert.Nil(t, payload.Choices)
}

func TestParseSegmentResponse_StripsCodeFences(t *testing.T) {
	raw := "```json\n{\"story\": \"Fenced.\", \"question\": \"Q?\", \"choices\": [\"A\", \"B\", \"C\"]}\n```"

	payload := ParseSegmentResponse(raw, false)

	assert.Equal(t, "Fenced.", payload.Story)
}

func TestParseSegmentResponse_MalformedJSON(t *testing.T) {
	t.Run("non-final", func(t *testing.T) {
		payload := ParseSegmentResponse("not json at all", false)

		assert.Equal(t, "The story reached a confusing point!", payload.Story)
		assert.Equal(t, "Try again?", payload.Question)
		assert.Equal(t, []string{"Yes", "No", "Maybe"}, payload.Choices)
	})

	t.Run("final", func(t *testing.T) {
		payload := ParseSegmentResponse("not json at all", true)

		assert.Equal(t, "And they all lived happily ever after... (almost!).", payload.Story)
		assert.Empty(t, payload.Question)
		assert.Nil(t, payload.Choices)
	})
}

func TestParseSegmentResponse_MissingKeys(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{"empty object", `{}`},
		{"empty story", `{"story": "", "question": "Q?", "choices": ["A", "B", "C"]}`},
		{"story not a string", `{"story": 42, "question": "Q?", "choices": ["A", "B", "C"]}`},
		{"missing question", `{"story": "S", "choices": ["A", "B", "C"]}`},
		{"missing choices", `{"story": "S", "question": "Q?"}`},
		{"empty choices", `{"story": "S", "question": "Q?", "choices": []}`},
		{"choices not an array", `{"story": "S", "question": "Q?", "choices": "A"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			payload := ParseSegmentResponse(tt.raw, false)

			assert.Equal(t, MalformedFallback(false), payload)
		})
	}
}

func TestParseSegmentResponse_ChoicesCoercion(t *testing.T) {
	t.Run("one choice padded to three", func(t *testing.T) {
		payload := ParseSegmentResponse(`{"story": "S", "question": "Q?", "choices": ["Only"]}`, false)

		assert.Equal(t, []string{"Only", "…", "…"}, payload.Choices)
	})

	t.Run("extra choices truncated", func(t *testing.T) {
		payload := ParseSegmentResponse(`{"story": "S", "question": "Q?", "choices": ["A", "B", "C", "D", "E"]}`, false)

		assert.Equal(t, []string{"A", "B", "C"}, payload.Choices)
	})

	t.Run("non-string entries stringified", func(t *testing.T) {
		payload := ParseSegmentResponse(`{"story": "S", "question": "Q?", "choices": [1, true, "C"]}`, false)

		assert.Equal(t, []string{"1", "true", "C"}, payload.Choices)
	})
}

func TestFallbacks(t *testing.T) {
	assert.Equal(t, "Oops! The connection fizzled.", CallFailureFallback(false).Story)
	assert.Equal(t, []string{"Yes", "No", "Maybe"}, CallFailureFallback(false).Choices)
	assert.Equal(t, "Oops! The connection fizzled.", CallFailureFallback(true).Story)
	assert.Nil(t, CallFailureFallback(true).Choices)
}
