package tools

import (
	"context"
	"encoding/json"
	"sort"
	"strings"
)

// LoadSkillTool returns a named instruction block so capabilities can be
// disclosed progressively instead of bloating the system prompt.
type LoadSkillTool struct {
	base
	skills map[string]string
}

func NewLoadSkillTool(skills map[string]string) *LoadSkillTool {
	return &LoadSkillTool{
		base: newBase(
			"load_skill",
			"Load the instructions for a named skill.",
			Lightweight,
			`{
				"type": "object",
				"properties": {
					"name": {"type": "string", "minLength": 1}
				},
				"required": ["name"],
				"additionalProperties": false
			}`,
		),
		skills: skills,
	}
}

func (t *LoadSkillTool) Execute(_ context.Context, args json.RawMessage, _ *Context) *Result {
	var input struct {
		Name string `json:"name"`
	}
	if err := json.Unmarshal(args, &input); err != nil {
		return failure("decode arguments: %v", err)
	}

	block, ok := t.skills[input.Name]
	if !ok {
		names := make([]string, 0, len(t.skills))
		for name := range t.skills {
			names = append(names, name)
		}
		sort.Strings(names)
		if len(names) == 0 {
			return failure("unknown skill %q; no skills configured", input.Name)
		}
		return failure("unknown skill %q; available: %s", input.Name, strings.Join(names, ", "))
	}

	res := success(block)
	res.Metadata = map[string]any{"skill": input.Name}
	return res
}
