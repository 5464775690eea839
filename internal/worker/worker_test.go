package worker

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/starford/marginalia/internal/thread"
)

func TestResultAndResponseValidate(t *testing.T) {
	assert.NoError(t, Result{BlockID: "p1", UpdatedText: "x"}.Validate())
	assert.Error(t, Result{BlockID: "", UpdatedText: "x"}.Validate())
	assert.Error(t, Result{BlockID: "p1"}.Validate())

	assert.NoError(t, Response{RequestID: "r", Annotator: "g"}.Validate())
	assert.Error(t, Response{Annotator: "g"}.Validate())
}

func TestEcho_OneResponsePerBlock(t *testing.T) {
	var got []Response
	err := Echo{}.Annotate(context.Background(), Request{
		ID: "r1", Annotator: "grammar",
		Blocks: []RequestBlock{{BlockID: "a", Text: "one"}, {BlockID: "b", Text: "two"}},
	}, func(r Response) { got = append(got, r) })

	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "r1", got[1].RequestID)
	assert.Equal(t, "[grammar] two", got[1].Results[0].UpdatedText)
}

func ollamaServer(t *testing.T, check func(chatRequest), reply string, status int) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/chat" {
			http.NotFound(w, r)
			return
		}
		var req chatRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if check != nil {
			check(req)
		}
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(chatResponse{Message: chatMessage{Role: "assistant", Content: reply}, Done: true})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestOllama_Annotate(t *testing.T) {
	var seen chatRequest
	srv := ollamaServer(t, func(r chatRequest) { seen = r },
		`{"enhancedParagraphs":[{"blockId":"P1","updatedText":"Hello world"}]}`, http.StatusOK)

	o := NewOllama(srv.URL, "test-model", time.Second)
	var got []Response
	err := o.Annotate(context.Background(), Request{
		ID: "r1", Annotator: "grammar", Prompt: "fix grammar",
		Blocks: []RequestBlock{{BlockID: "P1", Text: "Hello wrold"}},
	}, func(r Response) { got = append(got, r) })

	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, []Result{{BlockID: "P1", UpdatedText: "Hello world"}}, got[0].Results)
	assert.Equal(t, "test-model", seen.Model)
	assert.Equal(t, "json", seen.Format)
	assert.True(t, strings.HasSuffix(seen.Messages[0].Content, "fix grammar"))
	assert.Contains(t, seen.Messages[1].Content, "Hello wrold")
}

func TestOllama_PromptNotResentWhenInThread(t *testing.T) {
	var seen chatRequest
	srv := ollamaServer(t, func(r chatRequest) { seen = r }, `{"enhancedParagraphs":[]}`, http.StatusOK)

	o := NewOllama(srv.URL, "", time.Second)
	err := o.Annotate(context.Background(), Request{
		ID: "r1", Annotator: "grammar", Prompt: "fix grammar",
		Blocks: []RequestBlock{{
			BlockID:        "P1",
			Text:           "Hello",
			PromptInThread: true,
			PriorMessages:  []thread.Message{{ID: "s", Role: thread.RoleSystem, Content: "fix grammar"}},
		}},
	}, func(Response) {})

	require.NoError(t, err)
	assert.NotContains(t, seen.Messages[0].Content, "fix grammar")
	assert.Contains(t, seen.Messages[1].Content, "fix grammar", "the thread still travels with the block")
}

func TestOllama_FailuresEmitNothing(t *testing.T) {
	cases := map[string]*httptest.Server{
		"status":    ollamaServer(t, nil, `{}`, http.StatusInternalServerError),
		"malformed": ollamaServer(t, nil, `not json`, http.StatusOK),
	}
	for name, srv := range cases {
		t.Run(name, func(t *testing.T) {
			emitted := false
			err := NewOllama(srv.URL, "", time.Second).Annotate(context.Background(), Request{
				ID: "r", Annotator: "g", Blocks: []RequestBlock{{BlockID: "a", Text: "x"}},
			}, func(Response) { emitted = true })
			assert.Error(t, err)
			assert.False(t, emitted)
		})
	}
}
