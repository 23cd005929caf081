package agent

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/PipeOpsHQ/rube/types"
)

func TestEstimateTokens(t *testing.T) {
	assert.Equal(t, 0, EstimateTokens(""))
	assert.Equal(t, 2, EstimateTokens("hello"))
	assert.Equal(t, 7, EstimateTokens("hello world this is a test"))
}

func TestTrimMessages_UnderBudgetKeepsAll(t *testing.T) {
	cm := NewContextManager(1000)
	msgs := []types.Message{
		{Role: types.RoleUser, Content: "hi"},
		{Role: types.RoleAssistant, Content: "hello"},
		{Role: types.RoleUser, Content: "list my emails"},
	}
	assert.Equal(t, msgs, cm.TrimMessages(msgs, "", nil, 0))
}

func TestTrimMessages_KeepsNewest(t *testing.T) {
	cm := NewContextManager(40)
	long := strings.Repeat("x", 80)
	msgs := []types.Message{
		{Role: types.RoleUser, Content: long},
		{Role: types.RoleAssistant, Content: long},
		{Role: types.RoleUser, Content: "short one"},
		{Role: types.RoleAssistant, Content: "short two"},
		{Role: types.RoleUser, Content: "final question"},
	}
	trimmed := cm.TrimMessages(msgs, "", nil, 0)
	assert.Equal(t, msgs[2:], trimmed)
}

func TestTrimMessages_AlwaysKeepsLast(t *testing.T) {
	cm := NewContextManager(10)
	msgs := []types.Message{
		{Role: types.RoleUser, Content: "older"},
		{Role: types.RoleUser, Content: strings.Repeat("y", 400)},
	}
	trimmed := cm.TrimMessages(msgs, strings.Repeat("s", 400), nil, 0)
	assert.Equal(t, msgs[1:], trimmed)
}

func TestTrimMessages_DropsOrphanedToolResults(t *testing.T) {
	msgs := []types.Message{
		{Role: types.RoleTool, ToolCallID: "call_0", Content: `{"ok":true}`},
		{Role: types.RoleUser, Content: "next"},
		{Role: types.RoleAssistant, ToolCalls: []types.ToolCall{{ID: "call_1", Name: "a"}, {ID: "call_2", Name: "b"}}},
		{Role: types.RoleTool, ToolCallID: "call_1", Content: "{}"},
		{Role: types.RoleUser, Content: "interrupted"},
	}
	got := pairToolCalls(msgs)
	assert.Equal(t, []types.Message{msgs[1], msgs[4]}, got)
}
