package api

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/ternarybob/repoagent/pkg/workflow/analyze"
	"github.com/ternarybob/repoagent/pkg/workflow/modify"
)

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// analyzeRequest is the submit body for an Analyze run.
type analyzeRequest struct {
	UserInput              string `json:"userInput"`
	APIKey                 string `json:"apiKey"`
	LLMProvider            string `json:"llmProvider"`
	SelectedModel          string `json:"selectedModel"`
	CustomBaseURL          string `json:"customBaseUrl"`
	CustomModel            string `json:"customModel"`
	MaxContextTokens       int    `json:"maxContextTokens"`
	FixingMaxContextTokens int    `json:"fixingMaxContextTokens"`
	UseMainModelForFixing  bool   `json:"useMainModelForFixing"`
	FixingModel            string `json:"fixingModel"`
	AttachExternalDoc      bool   `json:"attachExternalDoc"`
	ExternalDocURL         string `json:"externalDocUrl"`
	ForceSkipContainer     bool   `json:"forceSkipContainer"`
	EnableRAG              bool   `json:"enableRag"`
}

func (s *Server) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	if s.analyzer == nil {
		writeError(w, http.StatusServiceUnavailable, "analyze workflow not configured on this server")
		return
	}
	var body analyzeRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if body.UserInput == "" {
		writeError(w, http.StatusBadRequest, "userInput is required")
		return
	}

	req := analyze.Request{
		UserInput:              body.UserInput,
		APIKey:                 body.APIKey,
		LLMProvider:            body.LLMProvider,
		SelectedModel:          body.SelectedModel,
		CustomBaseURL:          body.CustomBaseURL,
		CustomModel:            body.CustomModel,
		MaxContextTokens:       body.MaxContextTokens,
		FixingMaxContextTokens: body.FixingMaxContextTokens,
		UseMainModelForFixing:  body.UseMainModelForFixing,
		FixingModel:            body.FixingModel,
		AttachExternalDoc:      body.AttachExternalDoc,
		ExternalDocURL:         body.ExternalDocURL,
		ForceSkipContainer:     body.ForceSkipContainer,
		EnableRAG:              body.EnableRAG,
	}

	resp, err := s.analyzer.Run(requestContext(r), req)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// modifyRequest is the submit body for a Modify run.
type modifyRequest struct {
	RepoURL          string               `json:"repoUrl"`
	UserRequest      string               `json:"userRequest"`
	ContainerEnv     *modify.ContainerEnv `json:"containerEnv,omitempty"`
	EnableEmbeddings bool                 `json:"enableEmbeddings"`
}

func (s *Server) handleModify(w http.ResponseWriter, r *http.Request) {
	if s.modifier == nil {
		writeError(w, http.StatusServiceUnavailable, "modify workflow not configured on this server")
		return
	}
	var body modifyRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if body.RepoURL == "" || body.UserRequest == "" {
		writeError(w, http.StatusBadRequest, "repoUrl and userRequest are required")
		return
	}

	req := modify.Request{
		RepoURL:          body.RepoURL,
		UserRequest:      body.UserRequest,
		ContainerEnv:     body.ContainerEnv,
		EnableEmbeddings: body.EnableEmbeddings,
	}

	resp, err := s.modifier.Run(requestContext(r), req)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func requestContext(r *http.Request) context.Context {
	return r.Context()
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
