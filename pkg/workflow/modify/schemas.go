package modify

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

var containerEnvSchemaProps = map[string]any{
	"baseImage":    map[string]any{"type": "string"},
	"buildCommand": map[string]any{"type": "string"},
	"runCommand":   map[string]any{"type": "string"},
	"port":         map[string]any{"type": "integer"},
	"notes":        map[string]any{"type": "string"},
}

var modificationPlanSchema = mustCompile("modify-plan.json", map[string]any{
	"type":     "object",
	"required": []any{"modificationPlan", "filesToModify"},
	"properties": map[string]any{
		"modificationPlan": map[string]any{"type": "string"},
		"filesToModify":    map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
		"dependencies":     map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
		"containerEnv":     map[string]any{"type": "object", "properties": containerEnvSchemaProps},
	},
})

var verificationResultSchema = mustCompile("modify-verification.json", map[string]any{
	"type":     "object",
	"required": []any{"success", "exitCode"},
	"properties": map[string]any{
		"success":         map[string]any{"type": "boolean"},
		"commandExecuted": map[string]any{"type": "string"},
		"exitCode":        map[string]any{"type": "integer"},
		"logs":            map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
		"errorMessage":    map[string]any{"type": "string"},
	},
})

var commitMessageSchema = mustCompile("modify-commit-message.json", map[string]any{
	"type":     "object",
	"required": []any{"message"},
	"properties": map[string]any{
		"message": map[string]any{"type": "string"},
	},
})
