package llm

import (
	"context"
	"strings"
)

// mockBackend echoes the request back in a canned acknowledgement.
type mockBackend struct{}

func (mockBackend) Complete(ctx context.Context, _ string, prompt string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	return "네, \"" + strings.TrimSpace(prompt) + "\" 요청을 확인했습니다.", nil
}
