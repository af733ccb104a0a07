package forge

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRepoPath(t *testing.T) {
	cases := map[string]string{
		"acme/widget":                        "/repos/acme/widget",
		"https://github.com/acme/widget":     "/repos/acme/widget",
		"https://github.com/acme/widget.git": "/repos/acme/widget",
	}
	for in, want := range cases {
		got, err := repoPath(in)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
}

func TestDefaultBranch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/repos/acme/widget", r.URL.Path)
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		json.NewEncoder(w).Encode(map[string]string{"default_branch": "trunk"})
	}))
	defer srv.Close()

	c := New(srv.URL, "secret")
	branch, err := c.DefaultBranch(context.Background(), "acme/widget")
	require.NoError(t, err)
	assert.Equal(t, "trunk", branch)
}

func TestCreatePullRequest(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/repos/acme/widget/pulls", r.URL.Path)
		var body map[string]string
		json.NewDecoder(r.Body).Decode(&body)
		assert.Equal(t, "ai/task-1", body["head"])
		json.NewEncoder(w).Encode(map[string]any{"number": 42, "html_url": "https://example/pr/42"})
	}))
	defer srv.Close()

	c := New(srv.URL, "")
	pr, err := c.CreatePullRequest(context.Background(), "acme/widget", "title", "body", "ai/task-1", "main")
	require.NoError(t, err)
	assert.Equal(t, 42, pr.Number)
	assert.Equal(t, "https://example/pr/42", pr.URL)
}

func TestCreatePullRequest_NonSuccessStatusIsError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		w.Write([]byte(`{"message":"already exists"}`))
	}))
	defer srv.Close()

	c := New(srv.URL, "")
	_, err := c.CreatePullRequest(context.Background(), "acme/widget", "t", "b", "h", "main")
	assert.Error(t, err)
}

func TestReadFile_DecodesBase64Content(t *testing.T) {
	encoded := base64.StdEncoding.EncodeToString([]byte("package main\n"))
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"content": encoded, "encoding": "base64"})
	}))
	defer srv.Close()

	c := New(srv.URL, "")
	content, err := c.ReadFile(context.Background(), "acme/widget", "main.go", "")
	require.NoError(t, err)
	assert.Equal(t, "package main\n", content)
}

func TestListDirectory(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode([]map[string]string{
			{"name": "main.go", "path": "main.go", "type": "file"},
			{"name": "pkg", "path": "pkg", "type": "dir"},
		})
	}))
	defer srv.Close()

	c := New(srv.URL, "")
	entries, err := c.ListDirectory(context.Background(), "acme/widget", "", "")
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "main.go", entries[0].Name)
}
