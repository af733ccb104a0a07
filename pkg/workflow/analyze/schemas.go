package analyze

import (
	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/ternarybob/repoagent/pkg/llm"
)

func mustCompile(name string, doc map[string]any) *jsonschema.Schema {
	schema, err := llm.CompileSchema(name, doc)
	if err != nil {
		panic(err)
	}
	return schema
}

// initialAnalysisSchema is the schema CompleteStructured validates the
// first LLM turn's JSON output against.
var initialAnalysisSchema = mustCompile("analyze-initial.json", map[string]any{
	"type":     "object",
	"required": []any{"repoUrl", "userRequest"},
	"properties": map[string]any{
		"repoUrl":         map[string]any{"type": "string"},
		"userRequest":     map[string]any{"type": "string"},
		"externalDocsUrl": map[string]any{"type": "string"},
		"requirements": map[string]any{
			"type": "object",
			"properties": map[string]any{
				"summary": map[string]any{"type": "string"},
				"items":   map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
			},
		},
	},
})

var requirementsSchema = mustCompile("analyze-requirements.json", map[string]any{
	"type":     "object",
	"required": []any{"summary", "items"},
	"properties": map[string]any{
		"summary": map[string]any{"type": "string"},
		"items":   map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
	},
})

var repositoryAnalysisSchema = mustCompile("analyze-repository.json", map[string]any{
	"type":     "object",
	"required": []any{"tldr", "analysis"},
	"properties": map[string]any{
		"tldr":                map[string]any{"type": "string"},
		"analysis":            map[string]any{"type": "string"},
		"userRequestAnalysis": map[string]any{"type": "string"},
		"repositoryReview":    map[string]any{"type": "string"},
		"containerEnv": map[string]any{
			"type": "object",
			"properties": map[string]any{
				"baseImage":    map[string]any{"type": "string"},
				"buildCommand": map[string]any{"type": "string"},
				"runCommand":   map[string]any{"type": "string"},
				"port":         map[string]any{"type": "integer"},
				"notes":        map[string]any{"type": "string"},
			},
		},
	},
})
