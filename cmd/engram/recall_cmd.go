package main

import (
	"strings"
	"time"

	"github.com/engramhq/engram/assemble"
	"github.com/engramhq/engram/memory"
	"github.com/spf13/cobra"
)

func newRecallCmd() *cobra.Command {
	kvargs := &struct {
		limit    int
		tags     []string
		archived bool
	}{}
	cmd := &cobra.Command{
		Use:   "recall <query>",
		Short: "Search stored memory units",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signalContext(cmd)
			defer cancel()

			e, _, err := openEngram()
			if err != nil {
				return err
			}
			defer e.Close()

			opts := memory.SearchOptions{
				Query: args[0],
				Limit: kvargs.limit,
				Tags:  kvargs.tags,
			}
			if kvargs.archived {
				opts.Statuses = []memory.Status{memory.StatusActive, memory.StatusArchived}
			}

			hits, err := e.Recall(ctx, opts)
			if err != nil {
				return err
			}
			if len(hits) == 0 {
				cmd.Println("no matching units")
				return nil
			}
			for i, hit := range hits {
				cmd.Printf("%2d. [%.3f] %s (%s, %s)\n    %s\n",
					i+1, hit.Score, hit.Unit.ID, hit.Unit.Code, hit.Unit.Status,
					firstLine(hit.Unit.Content))
			}
			return nil
		},
	}

	cmd.Flags().IntVar(&kvargs.limit, "limit", 10, "maximum number of hits")
	cmd.Flags().StringSliceVar(&kvargs.tags, "tag", nil, "restrict to units carrying this tag (repeatable)")
	cmd.Flags().BoolVar(&kvargs.archived, "archived", false, "include archived units")

	return cmd
}

func newAssembleCmd() *cobra.Command {
	kvargs := &struct {
		limit    int
		maxChars int
		cutoff   time.Duration
	}{}
	cmd := &cobra.Command{
		Use:   "assemble <query>",
		Short: "Assemble a deduplicated, bounded context for a query",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signalContext(cmd)
			defer cancel()

			e, _, err := openEngram()
			if err != nil {
				return err
			}
			defer e.Close()

			result, err := e.Assemble(ctx, args[0], nil, assemble.Options{
				Cutoff:   kvargs.cutoff,
				Limit:    kvargs.limit,
				MaxChars: kvargs.maxChars,
			})
			if err != nil {
				return err
			}

			cmd.Println(result.Text)
			cmd.Printf("\n-- units: %s\n", strings.Join(result.IncludedUnitIDs, ", "))
			if result.Truncated {
				cmd.Printf("-- truncated, dropped: %s\n", strings.Join(result.DroppedUnitIDs, ", "))
			}
			return nil
		},
	}

	cmd.Flags().IntVar(&kvargs.limit, "limit", 0, "maximum retrieved units (0 = configured default)")
	cmd.Flags().IntVar(&kvargs.maxChars, "max-chars", 0, "context size bound (0 = configured default)")
	cmd.Flags().DurationVar(&kvargs.cutoff, "cutoff", 0, "history recency window (0 = configured default)")

	return cmd
}

func firstLine(s string) string {
	line, _, _ := strings.Cut(strings.TrimSpace(s), "\n")
	if len(line) > 120 {
		line = line[:120] + "…"
	}
	return line
}
