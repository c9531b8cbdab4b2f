package cli

import (
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testTree() *cobra.Command {
	root := &cobra.Command{Use: "outreach"}
	AddHelpJSONFlag(root)

	campaigns := &cobra.Command{Use: "campaigns", Short: "Manage campaigns"}
	create := &cobra.Command{Use: "create", Short: "Create a draft campaign", Run: func(*cobra.Command, []string) {}}
	create.Flags().String("name", "", "Campaign name")
	create.Flags().StringArrayP("query", "q", nil, "Search query")
	create.MarkFlagRequired("name")
	campaigns.AddCommand(create)

	hidden := &cobra.Command{Use: "debug", Hidden: true, Run: func(*cobra.Command, []string) {}}
	root.AddCommand(campaigns, hidden)
	return root
}

func TestGenerateSchema(t *testing.T) {
	schema := GenerateSchema(testTree())

	assert.Equal(t, "outreach", schema.Name)
	assert.Empty(t, schema.Flags, "help-json is not part of the schema")
	require.Len(t, schema.Subcommands, 1, "hidden commands are skipped")

	campaigns := schema.Subcommands[0]
	require.Len(t, campaigns.Subcommands, 1)
	create := campaigns.Subcommands[0]
	assert.Equal(t, "create", create.Name)
	assert.Equal(t, "Create a draft campaign", create.Description)

	flags := map[string]FlagSchema{}
	for _, f := range create.Flags {
		flags[f.Name] = f
	}
	require.Contains(t, flags, "name")
	require.Contains(t, flags, "query")
	assert.True(t, flags["name"].Required)
	assert.False(t, flags["query"].Required)
	assert.Equal(t, "q", flags["query"].Shorthand)
	assert.Equal(t, "stringArray", flags["query"].Type)
}

func TestFindTargetCommand(t *testing.T) {
	root := testTree()

	assert.Equal(t, "create", findTargetCommand(root, []string{"campaigns", "create"}).Name())
	assert.Equal(t, "campaigns", findTargetCommand(root, []string{"campaigns", "unknown"}).Name())
	assert.Equal(t, "outreach", findTargetCommand(root, nil).Name())
}
