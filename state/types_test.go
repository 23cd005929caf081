package state

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTitleFromMessage(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"short", "Send an email to Bob", "Send an email to Bob"},
		{"first line only", "  Summarize my inbox\nand draft replies", "Summarize my inbox"},
		{"empty", "   \n ", DefaultTitle},
		{"exactly fifty", strings.Repeat("a", 50), strings.Repeat("a", 50)},
		{"truncated", strings.Repeat("b", 60), strings.Repeat("b", 50) + "..."},
		{"runes not bytes", strings.Repeat("é", 55), strings.Repeat("é", 50) + "..."},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, TitleFromMessage(tt.in))
		})
	}
}

func TestRecipeUpdateApply(t *testing.T) {
	featured := true
	apps := []RecipeApp{{Name: "Slack"}}
	r := RecipeUpdate{IsFeatured: &featured, Apps: &apps}.Apply(Recipe{Title: "t", Category: "c"})
	assert.Equal(t, "t", r.Title)
	assert.True(t, r.IsFeatured)
	assert.Equal(t, apps, r.Apps)
}
