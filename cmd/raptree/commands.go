package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/dgallion1/raptree/internal/apperr"
	"github.com/dgallion1/raptree/internal/builder"
	"github.com/dgallion1/raptree/internal/pipeline"
	"github.com/dgallion1/raptree/internal/retriever"
)

var (
	buildOut  string
	buildYes  bool
	askTopK   int
	askTokens int
	askLayers bool
	askOnly   bool
	infoNodes bool
)

var buildCmd = &cobra.Command{
	Use:   "build <file>",
	Short: "Build a tree from a document and write a snapshot",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := bootstrap(cmd.ErrOrStderr())
		if err != nil {
			return err
		}
		defer a.Close()
		out := buildOut
		if out == "" {
			out = a.cfg.SnapshotPath
		}
		return runBuild(cmd.Context(), a, args[0], out, cmd.InOrStdin(), cmd.OutOrStdout())
	},
}

var askCmd = &cobra.Command{
	Use:   "ask <snapshot> <question>",
	Short: "Answer a question from a snapshot",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := bootstrap(cmd.ErrOrStderr())
		if err != nil {
			return err
		}
		defer a.Close()
		return runAsk(cmd.Context(), a, args[0], args[1], cmd.OutOrStdout())
	},
}

var infoCmd = &cobra.Command{
	Use:   "info <snapshot>",
	Short: "Print the shape of a snapshot",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := bootstrap(cmd.ErrOrStderr())
		if err != nil {
			return err
		}
		defer a.Close()
		return runInfo(cmd.Context(), a, args[0], cmd.OutOrStdout())
	},
}

func init() {
	buildCmd.Flags().StringVarP(&buildOut, "out", "o", "", "snapshot location (defaults to SNAPSHOT_PATH)")
	buildCmd.Flags().BoolVarP(&buildYes, "yes", "y", false, "replace an existing snapshot without asking")

	askCmd.Flags().IntVar(&askTopK, "top-k", 0, "nodes to select per step (0 keeps the configured value)")
	askCmd.Flags().IntVar(&askTokens, "max-tokens", 0, "context token budget (0 keeps the configured value)")
	askCmd.Flags().BoolVar(&askLayers, "layered", false, "descend layer by layer instead of searching the collapsed tree")
	askCmd.Flags().BoolVar(&askOnly, "context-only", false, "print the retrieved context without asking the QA model")

	infoCmd.Flags().BoolVar(&infoNodes, "nodes", false, "print every node")
}

// runBuild builds from path and persists to out. Without --yes an existing
// snapshot at out is loaded first so replacing it goes through overwrite
// consent. With --yes whatever is at out is replaced unread.
func runBuild(ctx context.Context, a *app, path, out string, in io.Reader, w io.Writer) error {
	if !buildYes {
		if _, err := a.orch.Restore(ctx, out); err != nil && !missingSnapshot(err) {
			return err
		}
	}

	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	opts := pipeline.AddOptions{
		Overwrite: buildYes,
		Confirm:   confirmPrompt(in, w, out),
		Progress: func(p builder.Progress) {
			fmt.Fprintf(w, "layer %d: %d nodes (%d total)\n", p.Layer, p.Nodes, p.TotalNodes)
		},
	}
	info, err := a.orch.AddDocument(ctx, f, path, opts)
	if err != nil {
		return err
	}
	if err := a.orch.Persist(ctx, out); err != nil {
		return err
	}
	fmt.Fprintf(w, "wrote %s: %d layers, %d nodes (%d leaves)\n", out, info.NumLayers, info.TotalNodes, info.LeafNodeCount)
	return nil
}

// missingSnapshot reports whether err only says nothing is stored at the
// location yet.
func missingSnapshot(err error) bool {
	var cfgErr *apperr.ConfigurationError
	return errors.As(err, &cfgErr) && cfgErr.Field == "path"
}

func confirmPrompt(in io.Reader, w io.Writer, out string) func(pipeline.TreeInfo) bool {
	return func(current pipeline.TreeInfo) bool {
		fmt.Fprintf(w, "%s already holds a tree with %d nodes over %d layers. Replace it? [y/N] ",
			out, current.TotalNodes, current.NumLayers)
		line, _ := bufio.NewReader(in).ReadString('\n')
		answer := strings.ToLower(strings.TrimSpace(line))
		return answer == "y" || answer == "yes"
	}
}

func runAsk(ctx context.Context, a *app, path, question string, w io.Writer) error {
	if _, err := a.orch.Restore(ctx, path); err != nil {
		return err
	}
	opts := askOptions(a.orch.DefaultRetrieveOptions())
	if askOnly {
		res, err := a.orch.Retrieve(ctx, question, opts)
		if err != nil {
			return err
		}
		fmt.Fprintln(w, res.Context)
		return nil
	}
	ans, err := a.orch.Answer(ctx, question, opts)
	if err != nil {
		return err
	}
	fmt.Fprintln(w, ans.Answer)
	return nil
}

func askOptions(opts retriever.Options) retriever.Options {
	if askTopK > 0 {
		opts.TopK = askTopK
	}
	if askTokens > 0 {
		opts.MaxTokens = askTokens
	}
	if askLayers {
		opts.CollapseTree = false
	}
	return opts
}

func runInfo(ctx context.Context, a *app, path string, w io.Writer) error {
	info, err := a.orch.Restore(ctx, path)
	if err != nil {
		return err
	}
	var v any = info
	if infoNodes {
		if v, err = a.orch.NodesInfo(); err != nil {
			return err
		}
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
