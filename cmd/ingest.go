package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/sentinelworks/triage/internal/knowledge"
)

var ingestPartition string

var ingestCmd = &cobra.Command{
	Use:   "ingest <file.yaml>",
	Short: "Load knowledge documents from a YAML file",
	Long: `Load documents into a knowledge partition from a YAML file:

  partition: knowledge_base
  documents:
    - content: "Webhooks must be re-registered after migration..."
      metadata:
        topic: webhooks

The partition in the file can be overridden with --partition. Valid
partitions: knowledge_base, error_patterns, past_incidents.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return ingestRun(args[0])
	},
}

func init() {
	ingestCmd.Flags().StringVar(&ingestPartition, "partition", "", "Target partition (overrides the file)")
	rootCmd.AddCommand(ingestCmd)
}

type ingestFile struct {
	Partition string `yaml:"partition"`
	Documents []struct {
		Content  string         `yaml:"content"`
		Metadata map[string]any `yaml:"metadata"`
	} `yaml:"documents"`
}

func validPartition(p string) bool {
	switch p {
	case knowledge.PartitionDocs, knowledge.PartitionErrorPatterns, knowledge.PartitionIncidents:
		return true
	}
	return false
}

func ingestRun(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read input: %w", err)
	}

	var in ingestFile
	if err := yaml.Unmarshal(data, &in); err != nil {
		return fmt.Errorf("parse yaml: %w", err)
	}

	partition := in.Partition
	if ingestPartition != "" {
		partition = ingestPartition
	}
	if partition == "" {
		partition = knowledge.PartitionDocs
	}
	if !validPartition(partition) {
		return fmt.Errorf("unknown partition %q (use knowledge_base, error_patterns, or past_incidents)", partition)
	}
	if len(in.Documents) == 0 {
		return fmt.Errorf("no documents found in %s", path)
	}

	know, _, err := getKnowledge()
	if err != nil {
		return err
	}
	defer know.Close()

	ctx := rootCmd.Context()
	loaded := 0
	for _, d := range in.Documents {
		if d.Content == "" {
			ui.Warning("Skipping document with empty content")
			continue
		}
		doc := knowledge.Document{Content: d.Content, Metadata: d.Metadata}
		if err := know.Append(ctx, doc, partition); err != nil {
			return fmt.Errorf("append document: %w", err)
		}
		loaded++
		ui.VerboseLog("Loaded document (%d bytes)", len(d.Content))
	}

	ui.Success("Loaded %d documents into %s", loaded, partition)
	return nil
}
