package extractor

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xaenox/riskwatch/internal/models"
)

func TestExtract_ResolvesRolesByAIName(t *testing.T) {
	snap := Snapshot{
		URL:    "https://chat.example/c/1",
		AIName: "  Luna ",
		Nodes: []Node{
			{Sender: "kid42", Paragraphs: []string{"hi"}},
			{Sender: " Luna", Paragraphs: []string{" hello ", "how are you?"}},
		},
	}

	got := New().Extract(snap)

	require.Len(t, got, 2)
	assert.Equal(t, models.Message{Author: "kid42", Role: models.RoleUser, Text: "hi"}, got[0])
	assert.Equal(t, models.Message{Author: "Luna", Role: models.RoleAI, Text: "hello how are you?"}, got[1])
}

func TestExtract_NewestFirstIsReversed(t *testing.T) {
	snap := Snapshot{
		AIName: "Luna",
		Nodes: []Node{
			{Sender: "Luna", Paragraphs: []string{"third"}},
			{Sender: "kid", Paragraphs: []string{"second"}},
			{Sender: "Luna", Paragraphs: []string{"first"}},
		},
	}

	got := New(WithNewestFirst(true)).Extract(snap)

	require.Len(t, got, 3)
	assert.Equal(t, "first", got[0].Text)
	assert.Equal(t, "second", got[1].Text)
	assert.Equal(t, "third", got[2].Text)
}

func TestExtract_SkipsIncompleteNodes(t *testing.T) {
	tests := []struct {
		name string
		node Node
	}{
		{"no sender", Node{Paragraphs: []string{"orphan text"}}},
		{"blank sender", Node{Sender: "   ", Paragraphs: []string{"orphan text"}}},
		{"no paragraphs", Node{Sender: "kid"}},
		{"blank paragraphs", Node{Sender: "kid", Paragraphs: []string{"", "  "}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := New().Extract(Snapshot{Nodes: []Node{tt.node}})
			assert.Empty(t, got)
		})
	}
}

func TestExtract_DropsBlankParagraphs(t *testing.T) {
	got := New().Extract(Snapshot{Nodes: []Node{
		{Sender: "kid", Paragraphs: []string{" a ", "", "  ", "b"}},
	}})

	require.Len(t, got, 1)
	assert.Equal(t, "a b", got[0].Text)
}

type fixedResolver models.Role

func (r fixedResolver) ResolveRole(string) models.Role { return models.Role(r) }

func TestExtract_CustomResolver(t *testing.T) {
	snap := Snapshot{
		AIName: "kid",
		Nodes:  []Node{{Sender: "kid", Paragraphs: []string{"hey"}}},
	}

	got := New(WithResolver(fixedResolver(models.RoleUser))).Extract(snap)

	require.Len(t, got, 1)
	assert.Equal(t, models.RoleUser, got[0].Role)
}

func TestExtract_EmptyAINameMatchesNobodyWithALabel(t *testing.T) {
	got := New().Extract(Snapshot{Nodes: []Node{{Sender: "Luna", Paragraphs: []string{"hi"}}}})

	require.Len(t, got, 1)
	assert.Equal(t, models.RoleUser, got[0].Role)
}
