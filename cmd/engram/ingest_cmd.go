package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/engramhq/engram/errors"
	"github.com/engramhq/engram/internal/mylog"
	"github.com/engramhq/engram/loader"
	"github.com/engramhq/engram/memory"
	"github.com/mokiat/gog"
	"github.com/spf13/cobra"
)

func newIngestCmd() *cobra.Command {
	kvargs := &struct {
		tags       []string
		importance float64
		url        string
		depth      int
		feeds      []string
	}{}
	cmd := &cobra.Command{
		Use:   "ingest [<file OR dir> ...]",
		Short: "Chunk documents and store them as memory units",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signalContext(cmd)
			defer cancel()

			e, conf, err := openEngram()
			if err != nil {
				return err
			}
			defer e.Close()

			var (
				loaders   []loader.Loader
				textPaths []string
			)
			collect := func(path string) {
				switch {
				case strings.HasSuffix(strings.ToLower(path), ".pdf"):
					loaders = append(loaders, loader.NewPDFLoader(path))
				default:
					textPaths = append(textPaths, path)
				}
			}
			for _, arg := range args {
				stat, err := os.Stat(arg)
				if err != nil {
					return errors.Wrapf(err, "file or dir does not exist: %s", arg)
				}
				if !stat.IsDir() {
					collect(arg)
					continue
				}
				files, err := os.ReadDir(arg)
				if err != nil {
					return errors.Wrapf(err, "failed to read dir %s", arg)
				}
				for _, file := range files {
					if file.IsDir() {
						continue
					}
					collect(fmt.Sprintf("%s/%s", arg, file.Name()))
				}
			}
			if len(textPaths) > 0 {
				loaders = append(loaders, loader.NewTextLoader(textPaths...))
			}
			if kvargs.url != "" {
				logger := mylog.NewLogger(conf.Log.LogLevel, conf.Log.LogHandler)
				urlLoader, err := loader.NewURLLoader(conf.FireCrawl, kvargs.url, map[string]any{
					"maxDepth": kvargs.depth,
				}, logger)
				if err != nil {
					return err
				}
				loaders = append(loaders, urlLoader)
			}
			if len(kvargs.feeds) > 0 {
				loaders = append(loaders, loader.NewFeedLoader(kvargs.feeds...))
			}
			if len(loaders) == 0 {
				return errors.New("nothing to ingest: give files, --url or --feed")
			}

			opts := memory.IngestOptions{
				Tags:       kvargs.tags,
				Importance: kvargs.importance,
			}
			total := 0
			for _, l := range loaders {
				docs, err := l.Load(ctx)
				if err != nil {
					return err
				}
				for _, doc := range docs {
					units, err := e.RememberDocument(ctx, doc, opts)
					if err != nil {
						return errors.Wrapf(err, "failed to ingest %s", doc.SourceID)
					}
					total += len(units)
					cmd.Printf("%s: %d units [%s]\n", doc.SourceID, len(units),
						strings.Join(gog.Map(units, func(u *memory.Unit) string {
							return u.Code
						}), " "))
				}
			}
			cmd.Printf("ingested %d units into %s\n", total, conf.Store.SqlitePath)
			return nil
		},
	}

	cmd.Flags().StringSliceVar(&kvargs.tags, "tag", nil, "tag applied to every unit (repeatable)")
	cmd.Flags().Float64Var(&kvargs.importance, "importance", 0, "importance seed in [0,1]")
	cmd.Flags().StringVar(&kvargs.url, "url", "", "crawl a website instead of reading files")
	cmd.Flags().IntVar(&kvargs.depth, "depth", 1, "crawl depth for --url")
	cmd.Flags().StringSliceVar(&kvargs.feeds, "feed", nil, "RSS/Atom feed URL (repeatable)")

	return cmd
}
