package factory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_DefaultsToOpenAI(t *testing.T) {
	p, err := New(context.Background(), Config{OpenAIKey: "sk-test", Model: "gpt-4.1"})
	require.NoError(t, err)
	assert.Equal(t, "openai", p.Name())
	assert.True(t, p.Capabilities().Streaming)
}

func TestNew_Gemini(t *testing.T) {
	p, err := New(context.Background(), Config{Provider: "Gemini", GeminiKey: "test-gemini-key"})
	require.NoError(t, err)
	assert.Equal(t, "gemini", p.Name())
}

func TestNew_MissingKeys(t *testing.T) {
	_, err := New(context.Background(), Config{Provider: "openai"})
	require.ErrorContains(t, err, "OPENAI_API_KEY")

	_, err = New(context.Background(), Config{Provider: "gemini"})
	require.ErrorContains(t, err, "GEMINI_API_KEY")
}

func TestNew_UnsupportedProvider(t *testing.T) {
	_, err := New(context.Background(), Config{Provider: "unknown-provider"})
	require.ErrorContains(t, err, "unsupported")
}
