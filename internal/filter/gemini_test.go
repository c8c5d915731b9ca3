package filter

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGeminiReasoner_Complete(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.True(t, strings.HasSuffix(r.URL.Path, "models/gemini-test:generateContent"), r.URL.Path)
		body, _ := io.ReadAll(r.Body)
		assert.Contains(t, string(body), "judge this")
		assert.Contains(t, string(body), "application/json")
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"candidates":[{"content":{"role":"model","parts":[{"text":"{\"is_recommended\":false,\"reason\":\"too old\"}"}]}}]}`))
	}))
	defer srv.Close()

	ctx := context.Background()
	g, err := NewGeminiReasoner(ctx, GeminiConfig{APIKey: "k", Model: "gemini-test", BaseURL: srv.URL})
	require.NoError(t, err)

	out, err := g.Complete(ctx, []Message{{Text: "judge this"}}, true)
	require.NoError(t, err)
	v, err := ParseVerdict(out)
	require.NoError(t, err)
	assert.False(t, v.IsRecommended)
	assert.Equal(t, "too old", v.Reason)
}

func TestNewGeminiReasoner_RequiresKey(t *testing.T) {
	_, err := NewGeminiReasoner(context.Background(), GeminiConfig{})
	assert.Error(t, err)
}
