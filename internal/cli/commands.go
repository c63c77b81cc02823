package cli

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/pmezard/go-difflib/difflib"
	"github.com/spf13/cobra"
	"go.trai.ch/zerr"

	"gitdiagram/internal/export"
	"gitdiagram/internal/orchestrator"
)

func (c *cli) generateCmd() *cobra.Command {
	var (
		instructions string
		regenerate   bool
		estimate     bool
		output       string
		explain      bool
	)
	cmd := &cobra.Command{
		Use:   "generate <owner/repo>",
		Short: "Print the diagram for a repository, generating it when not cached",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			o, _, release, err := c.session(ctx, args[0])
			if err != nil {
				return err
			}
			defer release()

			if estimate {
				snap, err := c.await(ctx, o.EstimateCost(ctx, instructions))
				if err != nil {
					return err
				}
				fmt.Fprintln(c.errOut, c.ui.hint("Estimated cost: "+snap.Cost))
			}

			var act *orchestrator.Action
			if regenerate {
				act = o.Regenerate(ctx, instructions)
			} else {
				act = o.Generate(ctx, instructions)
			}
			snap, err := c.await(ctx, act)
			if err != nil {
				return err
			}
			fmt.Fprintln(c.errOut, c.ui.status(snap))
			if output != "" {
				if err := writeFile(output, []byte(snap.Artifact.Diagram)); err != nil {
					return c.fail("Could not write "+output+".", err)
				}
				fmt.Fprintln(c.errOut, c.ui.hint("Diagram written to "+output))
			} else {
				fmt.Fprintln(c.out, snap.Artifact.Diagram)
			}
			if explain {
				fmt.Fprintln(c.out)
				fmt.Fprintln(c.out, c.ui.title("Explanation"))
				fmt.Fprintln(c.out, snap.Artifact.Explanation)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&instructions, "instructions", "", "extra instructions for the generator (max 1000 characters)")
	cmd.Flags().BoolVar(&regenerate, "regenerate", false, "ignore the cached diagram and generate a new one")
	cmd.Flags().BoolVar(&estimate, "estimate", false, "print the cost estimate before generating")
	cmd.Flags().StringVarP(&output, "output", "o", "", "write the diagram markup to a file instead of stdout")
	cmd.Flags().BoolVar(&explain, "explain", false, "also print the explanation")
	return cmd
}

func (c *cli) modifyCmd() *cobra.Command {
	var showDiff bool
	cmd := &cobra.Command{
		Use:   "modify <owner/repo> <instructions>",
		Short: "Apply natural-language changes to the existing diagram",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			o, deps, release, err := c.session(ctx, args[0])
			if err != nil {
				return err
			}
			defer release()

			before, _ := deps.Cache.Get(ctx, o.Identity())
			snap, err := c.await(ctx, o.Modify(ctx, strings.Join(args[1:], " ")))
			if err != nil {
				return err
			}
			fmt.Fprintln(c.errOut, c.ui.status(snap))
			if !showDiff {
				fmt.Fprintln(c.out, snap.Artifact.Diagram)
				return nil
			}
			diff, err := unifiedDiff(before.Diagram, snap.Artifact.Diagram)
			if err != nil {
				return c.fail("Could not diff the diagrams.", err)
			}
			fmt.Fprint(c.out, diff)
			return nil
		},
	}
	cmd.Flags().BoolVar(&showDiff, "diff", false, "print a unified diff against the previous diagram")
	return cmd
}

func (c *cli) costCmd() *cobra.Command {
	var instructions string
	cmd := &cobra.Command{
		Use:   "cost <owner/repo>",
		Short: "Estimate what generating the diagram will cost",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			o, _, release, err := c.session(ctx, args[0])
			if err != nil {
				return err
			}
			defer release()

			snap, err := c.await(ctx, o.EstimateCost(ctx, instructions))
			if err != nil {
				return err
			}
			fmt.Fprintln(c.out, snap.Cost)
			return nil
		},
	}
	cmd.Flags().StringVar(&instructions, "instructions", "", "instructions the estimate should account for")
	return cmd
}

func (c *cli) askCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ask <owner/repo> <question>",
		Short: "Ask a question about the repository",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			o, _, release, err := c.session(ctx, args[0])
			if err != nil {
				return err
			}
			defer release()

			snap, err := c.await(ctx, o.Ask(ctx, strings.Join(args[1:], " ")))
			if err != nil {
				return err
			}
			fmt.Fprintln(c.out, snap.Answer)
			return nil
		},
	}
}

func (c *cli) scenariosCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "scenarios <owner/repo>",
		Short: "Generate Gherkin scenarios describing the repository's behavior",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			o, _, release, err := c.session(ctx, args[0])
			if err != nil {
				return err
			}
			defer release()

			snap, err := c.await(ctx, o.Scenarios(ctx))
			if err != nil {
				return err
			}
			fmt.Fprintln(c.out, snap.Scenarios)
			return nil
		},
	}
}

func (c *cli) exportCmd() *cobra.Command {
	var (
		format string
		out    string
	)
	cmd := &cobra.Command{
		Use:   "export <owner/repo>",
		Short: "Render the diagram to an SVG or PNG file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			f, err := export.ParseFormat(format)
			if err != nil {
				return err
			}
			o, deps, release, err := c.session(ctx, args[0])
			if err != nil {
				return err
			}
			defer release()

			snap, err := c.await(ctx, o.Generate(ctx, ""))
			if err != nil {
				return err
			}
			img, err := deps.Exporter.Export(ctx, snap, f)
			if err != nil {
				return c.fail("Failed to render the diagram.", err)
			}
			path := out
			if path == "" {
				path = img.Filename
			} else if info, statErr := os.Stat(path); statErr == nil && info.IsDir() {
				path = filepath.Join(path, img.Filename)
			}
			if err := writeFile(path, img.Data); err != nil {
				return c.fail("Could not write "+path+".", err)
			}
			fmt.Fprintln(c.errOut, c.ui.status(snap))
			fmt.Fprintln(c.out, path)
			return nil
		},
	}
	cmd.Flags().StringVar(&format, "format", "svg", "image format: svg or png")
	cmd.Flags().StringVar(&out, "out", "", "output file or directory (default <owner>-<repo>-diagram.<format>)")
	return cmd
}

func unifiedDiff(before, after string) (string, error) {
	return difflib.GetUnifiedDiffString(difflib.UnifiedDiff{
		A:        difflib.SplitLines(ensureNewline(before)),
		B:        difflib.SplitLines(ensureNewline(after)),
		FromFile: "before",
		ToFile:   "after",
		Context:  3,
	})
}

func ensureNewline(s string) string {
	if s == "" || strings.HasSuffix(s, "\n") {
		return s
	}
	return s + "\n"
}

func writeFile(path string, data []byte) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return zerr.With(zerr.Wrap(err, "create output dir"), "path", dir)
		}
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return zerr.With(zerr.Wrap(err, "write output"), "path", path)
	}
	return nil
}
