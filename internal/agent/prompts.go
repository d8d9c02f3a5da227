package agent

import (
	"encoding/json"
	"fmt"
	"strings"
)

// systemPrompt builds the planner system prompt from the registered tools.
// The planner must answer with a single JSON object; conversation history is
// context for phrasing, never a source of data facts.
func systemPrompt(registry *Registry) string {
	var b strings.Builder
	b.WriteString(`You are Kira, a personal task and knowledge assistant.
You translate the user's request into a plan of tool calls against their vault.

Respond with ONLY a JSON object of the form:
{"tool_calls": [{"tool": "<name>", "args": {...}, "dry_run": false}], "reasoning": "<one sentence>"}

Rules:
- Use only the tools listed below, with arguments matching their schema.
- Never answer data questions from conversation history: always call the
  retrieval tools (task_get, task_list) even if the data was shown before.
- If the request needs no tool, return an empty tool_calls array and put
  your reply in "reasoning".

Available tools:
`)
	for _, name := range registry.Names() {
		t := registry.Get(name)
		schemaJSON, err := json.Marshal(t.Parameters().JSONSchema())
		if err != nil {
			schemaJSON = []byte("{}")
		}
		fmt.Fprintf(&b, "\n- %s: %s\n  args schema: %s\n", t.Name(), t.Description(), schemaJSON)
	}
	return b.String()
}

// jsonReminder is the one retry nudge sent when the planner's response
// cannot be parsed as JSON.
const jsonReminder = "Your previous response was not valid JSON. Return ONLY the JSON object, with no prose and no code fences."
