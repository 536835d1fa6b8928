package main

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/ahmetcoskunkizilkaya/paygate-portal/internal/config"
	"github.com/ahmetcoskunkizilkaya/paygate-portal/internal/logging"
)

func logsCmd(cfg *config.PortalConfig) *cobra.Command {
	var (
		level    string
		category string
		subject  string
		since    time.Duration
		asJSON   bool
	)
	cmd := &cobra.Command{
		Use:   "logs",
		Short: "Show recorded diagnostic events",
		RunE: func(cmd *cobra.Command, args []string) error {
			minLevel, err := logging.ParseLevel(level)
			if err != nil {
				return err
			}
			sink := newSink(cfg)
			if asJSON {
				raw, err := sink.Export()
				if err != nil {
					return err
				}
				_, err = cmd.OutOrStdout().Write(append(raw, '\n'))
				return err
			}

			filter := logging.Filter{MinLevel: minLevel, Category: category, SubjectID: subject}
			if since > 0 {
				filter.Since = time.Now().Add(-since)
			}
			w := cmd.OutOrStdout()
			for _, e := range sink.Entries(filter) {
				fmt.Fprintln(w, formatEntry(e))
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&level, "level", "debug", "Minimum level: debug, info, warn, error, critical")
	cmd.Flags().StringVar(&category, "category", "", "Only this category, e.g. AUTH")
	cmd.Flags().StringVar(&subject, "subject", "", "Only this subject id")
	cmd.Flags().DurationVar(&since, "since", 0, "Only events newer than this, e.g. 1h")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Export every entry as JSON, ignoring filters")

	cmd.AddCommand(&cobra.Command{
		Use:   "clear",
		Short: "Delete recorded diagnostic events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return removeDiagnostics(cfg)
		},
	})
	return cmd
}

func formatEntry(e logging.Entry) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s %-8s", e.Timestamp.Local().Format(time.DateTime), e.LevelName)
	if e.Category != "" {
		fmt.Fprintf(&b, " [%s]", e.Category)
	}
	b.WriteString(" " + e.Message)
	if e.SubjectID != "" {
		fmt.Fprintf(&b, " subject=%s", e.SubjectID)
	}
	if e.CorrelationID != "" {
		fmt.Fprintf(&b, " correlation=%s", e.CorrelationID)
	}
	for _, k := range sortedKeys(e.Metadata) {
		fmt.Fprintf(&b, " %s=%v", k, e.Metadata[k])
	}
	return b.String()
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
