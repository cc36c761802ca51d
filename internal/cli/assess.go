package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Ilnur7571/INVEST-Checker-Agent/internal/cache"
)

func init() {
	check := &cobra.Command{
		Use:   "check [story]",
		Short: "Look a story up in the cache without calling the model",
		Long:  "Reports exact_hit, fuzzy_hit or miss. Story can be a positional arg or piped via stdin.",
		RunE:  runCheck,
	}

	assess := &cobra.Command{
		Use:   "assess [story]",
		Short: "Evaluate a story, reusing a cached verdict when possible",
		Long:  "On a cache miss the story is sent to the configured model and the verdict is stored.",
		RunE:  runAssess,
	}

	refresh := &cobra.Command{
		Use:   "refresh [story]",
		Short: "Re-evaluate a story and replace its stored verdict",
		RunE:  runRefresh,
	}

	RootCmd.AddCommand(check, assess, refresh)
}

func runCheck(cmd *cobra.Command, args []string) error {
	story, err := readStory(cmd, args)
	if err != nil {
		return err
	}

	svc, cleanup, err := openService(cmd.Context(), false)
	if err != nil {
		return wrapErr("open", err)
	}
	defer cleanup()

	out, err := svc.Evaluate(cmd.Context(), story)
	if err != nil {
		return wrapErr("check", err)
	}

	if formatFlag == "text" {
		if !out.Hit() {
			fmt.Fprintln(cmd.OutOrStdout(), "miss")
			return nil
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s (%.3f, %s)\n%s\n", out.Kind, out.Score, out.Record.ID, out.Record.Result)
		return nil
	}
	printJSON(cmd, out)
	return nil
}

func runAssess(cmd *cobra.Command, args []string) error {
	story, err := readStory(cmd, args)
	if err != nil {
		return err
	}

	svc, cleanup, err := openService(cmd.Context(), true)
	if err != nil {
		return wrapErr("open", err)
	}
	defer cleanup()

	a, err := svc.Assess(cmd.Context(), story)
	if err != nil {
		return wrapErr("assess", err)
	}

	if formatFlag == "text" {
		if a.Kind == cache.FuzzyHit {
			fmt.Fprintf(cmd.OutOrStdout(), "Reused from a similar story (%.0f%% match):\n", a.Score*100)
		}
		fmt.Fprintln(cmd.OutOrStdout(), a.Result)
		return nil
	}
	printJSON(cmd, a)
	return nil
}

func runRefresh(cmd *cobra.Command, args []string) error {
	story, err := readStory(cmd, args)
	if err != nil {
		return err
	}

	svc, cleanup, err := openService(cmd.Context(), true)
	if err != nil {
		return wrapErr("open", err)
	}
	defer cleanup()

	rec, err := svc.Refresh(cmd.Context(), story)
	if err != nil {
		return wrapErr("refresh", err)
	}
	printJSON(cmd, rec)
	return nil
}
