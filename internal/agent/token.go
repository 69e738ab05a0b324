package agent

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/switchyard-ai/switchyard/pkg/models"
)

// ErrForeignToken rejects resume tokens minted by a different engine.
var ErrForeignToken = errors.New("agent: resume token belongs to another engine")

// resumeState is the serialisable snapshot behind a ResumeToken: everything
// needed to continue the conversation on the same engine kind.
type resumeState struct {
	EngineID     string                  `json:"engine_id"`
	Ref          string                  `json:"ref"`
	SessionID    string                  `json:"session_id,omitempty"`
	Model        string                  `json:"model"`
	SystemPrompt string                  `json:"system_prompt,omitempty"`
	MaxTokens    int                     `json:"max_tokens,omitempty"`
	Messages     []models.Message        `json:"messages"`
	Tools        []models.ToolDefinition `json:"tools,omitempty"`
}

func encodeToken(st *resumeState) (string, error) {
	data, err := json.Marshal(st)
	if err != nil {
		return "", fmt.Errorf("agent: encode resume token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(data), nil
}

func decodeToken(token string) (*resumeState, error) {
	data, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return nil, fmt.Errorf("agent: malformed resume token: %w", err)
	}
	var st resumeState
	if err := json.Unmarshal(data, &st); err != nil {
		return nil, fmt.Errorf("agent: malformed resume token: %w", err)
	}
	return &st, nil
}
