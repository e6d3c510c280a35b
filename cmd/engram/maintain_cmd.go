package main

import (
	"github.com/engramhq/engram/graph"
	"github.com/goccy/go-yaml"
	"github.com/spf13/cobra"
)

func newMaintainCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "maintain",
		Short: "Run the lifecycle pass and rebuild the knowledge graph",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signalContext(cmd)
			defer cancel()

			e, _, err := openEngram()
			if err != nil {
				return err
			}
			defer e.Close()

			report, err := e.Maintain(ctx)
			if err != nil {
				return err
			}
			return printYAML(cmd, report)
		},
	}
}

func newReconstructCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reconstruct",
		Short: "Run the lifecycle pass only",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signalContext(cmd)
			defer cancel()

			e, _, err := openEngram()
			if err != nil {
				return err
			}
			defer e.Close()

			report, err := e.Reconstruct(ctx)
			if err != nil {
				return err
			}
			return printYAML(cmd, report)
		},
	}
}

func newRebuildCmd() *cobra.Command {
	kvargs := &struct {
		incremental bool
	}{}
	cmd := &cobra.Command{
		Use:   "rebuild",
		Short: "Rebuild the knowledge graph with coverage accounting",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signalContext(cmd)
			defer cancel()

			e, _, err := openEngram()
			if err != nil {
				return err
			}
			defer e.Close()

			var report *graph.CoverageReport
			if kvargs.incremental {
				report, err = e.UpdateIndex(ctx)
			} else {
				report, err = e.RebuildIndex(ctx)
			}
			if err != nil {
				return err
			}
			return printYAML(cmd, report)
		},
	}

	cmd.Flags().BoolVar(&kvargs.incremental, "incremental", false, "apply changes since the last build instead of rebuilding")

	return cmd
}

func newStatsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show unit counts per tier and the live graph build",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signalContext(cmd)
			defer cancel()

			e, _, err := openEngram()
			if err != nil {
				return err
			}
			defer e.Close()

			stats, err := e.Stats(ctx)
			if err != nil {
				return err
			}
			return printYAML(cmd, stats)
		},
	}
}

func newFocusCmd() *cobra.Command {
	kvargs := &struct {
		topic    string
		center   string
		maxNodes int
	}{}
	cmd := &cobra.Command{
		Use:   "focus",
		Short: "Sample a focus view of the knowledge graph",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signalContext(cmd)
			defer cancel()

			e, _, err := openEngram()
			if err != nil {
				return err
			}
			defer e.Close()

			if _, err := e.RebuildIndex(ctx); err != nil {
				return err
			}
			view, err := e.FocusView(ctx, graph.FocusScope{
				Topic:    kvargs.topic,
				CenterID: kvargs.center,
				MaxNodes: kvargs.maxNodes,
			})
			if err != nil {
				return err
			}
			return printYAML(cmd, view)
		},
	}

	cmd.Flags().StringVar(&kvargs.topic, "topic", "", "restrict to nodes tagged with this topic")
	cmd.Flags().StringVar(&kvargs.center, "center", "", "restrict to nodes reachable from this unit ID")
	cmd.Flags().IntVar(&kvargs.maxNodes, "max-nodes", 0, "sample cap (0 = configured default)")

	return cmd
}

func printYAML(cmd *cobra.Command, v any) error {
	data, err := yaml.Marshal(v)
	if err != nil {
		return err
	}
	cmd.Println(string(data))
	return nil
}
