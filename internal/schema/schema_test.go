package schema

import (
	"testing"

	"github.com/spf13/cobra"
)

func newTree() *cobra.Command {
	root := &cobra.Command{Use: "xquotes"}
	root.PersistentFlags().Bool("plain", false, "plain output")
	providers := &cobra.Command{Use: "providers", Short: "manage providers", Aliases: []string{"p"}}
	add := &cobra.Command{Use: "add <name>", Short: "register a provider", RunE: func(*cobra.Command, []string) error { return nil }}
	add.Flags().String("kind", "", "aggregator or bridge")
	_ = add.MarkFlagRequired("kind")
	providers.AddCommand(add)
	root.AddCommand(providers)
	return root
}

func TestBuildSchema(t *testing.T) {
	s, err := Build(newTree(), "providers add")
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	if s.Path != "xquotes providers add" || !s.Runnable {
		t.Fatalf("unexpected schema: %+v", s)
	}
	if len(s.Flags) != 1 || s.Flags[0].Name != "kind" || !s.Flags[0].Required {
		t.Fatalf("unexpected flags: %+v", s.Flags)
	}
	if len(s.GlobalFlags) != 1 || s.GlobalFlags[0].Name != "plain" {
		t.Fatalf("unexpected global flags: %+v", s.GlobalFlags)
	}
}

func TestBuildSchemaAliasAndMissing(t *testing.T) {
	s, err := Build(newTree(), "p")
	if err != nil {
		t.Fatalf("Build by alias failed: %v", err)
	}
	if len(s.Subcommands) != 1 || s.Subcommands[0].Use != "add <name>" {
		t.Fatalf("unexpected subcommands: %+v", s.Subcommands)
	}
	if _, err := Build(newTree(), "providers nope"); err == nil {
		t.Fatal("expected error for unknown command")
	}
}
