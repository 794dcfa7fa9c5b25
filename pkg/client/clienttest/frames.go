package clienttest

import (
	"encoding/json"

	"github.com/go-go-golems/vivarium/pkg/conversation"
)

// Frame encodes v as one data frame followed by the blank separator line
// the service writes after each frame.
func Frame(v interface{}) string {
	b, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return "data: " + string(b) + "\n\n"
}

func MessageStartFrame(id string, role conversation.Role, usage *conversation.TokenUsage) string {
	message := map[string]interface{}{
		"id":   id,
		"role": role,
	}
	if usage != nil {
		message["usage"] = usage
	}
	return Frame(map[string]interface{}{
		"type":    "message_start",
		"message": message,
	})
}

func DeltaFrame(text string) string {
	return Frame(map[string]interface{}{
		"type": "content_block_delta",
		"delta": map[string]interface{}{
			"type": "text_delta",
			"text": text,
		},
	})
}

func ErrorFrame(errorType string, message string) string {
	return Frame(map[string]interface{}{
		"type": "error",
		"error": map[string]string{
			"type":    errorType,
			"message": message,
		},
	})
}

func DoneFrame() string {
	return "data: [DONE]\n\n"
}

// Usage builds a TokenUsage with input and output counts set.
func Usage(input, output int) *conversation.TokenUsage {
	return &conversation.TokenUsage{
		InputTokens:  &input,
		OutputTokens: &output,
	}
}
