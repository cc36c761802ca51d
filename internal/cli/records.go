package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

func init() {
	get := &cobra.Command{
		Use:   "get <id>",
		Short: "Show a stored record",
		Args:  cobra.ExactArgs(1),
		RunE:  runGet,
	}

	rm := &cobra.Command{
		Use:   "rm <id>",
		Short: "Delete a record permanently",
		Args:  cobra.ExactArgs(1),
		RunE:  runRm,
	}

	search := &cobra.Command{
		Use:   "search [query]",
		Short: "Search stored stories by substring",
		Long:  "Search stored stories. Query and stories are compared in normalized form, so case and punctuation are ignored.",
		Args:  cobra.MinimumNArgs(1),
		RunE:  runSearch,
	}
	search.Flags().IntP("limit", "l", 20, "Max results")

	promote := &cobra.Command{
		Use:   "promote <id>",
		Short: "Mark a record as golden",
		Args:  cobra.ExactArgs(1),
		RunE:  runPromote,
	}
	promote.Flags().Bool("demote", false, "Remove the golden mark instead")

	RootCmd.AddCommand(get, rm, search, promote)
}

func runGet(cmd *cobra.Command, args []string) error {
	svc, cleanup, err := openService(cmd.Context(), false)
	if err != nil {
		return wrapErr("open", err)
	}
	defer cleanup()

	rec, err := svc.Get(cmd.Context(), args[0])
	if err != nil {
		return wrapErr("get", err)
	}
	printJSON(cmd, rec)
	return nil
}

func runRm(cmd *cobra.Command, args []string) error {
	svc, cleanup, err := openService(cmd.Context(), false)
	if err != nil {
		return wrapErr("open", err)
	}
	defer cleanup()

	if err := svc.Delete(cmd.Context(), args[0]); err != nil {
		return wrapErr("rm", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), `{"ok":true,"id":%q}`+"\n", args[0])
	return nil
}

func runSearch(cmd *cobra.Command, args []string) error {
	limit, _ := cmd.Flags().GetInt("limit")
	query := strings.Join(args, " ")

	svc, cleanup, err := openService(cmd.Context(), false)
	if err != nil {
		return wrapErr("open", err)
	}
	defer cleanup()

	results, err := svc.Search(cmd.Context(), query, limit)
	if err != nil {
		return wrapErr("search", err)
	}

	if len(results) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "[]")
		return nil
	}
	printJSON(cmd, results)
	return nil
}

func runPromote(cmd *cobra.Command, args []string) error {
	demote, _ := cmd.Flags().GetBool("demote")

	svc, cleanup, err := openService(cmd.Context(), false)
	if err != nil {
		return wrapErr("open", err)
	}
	defer cleanup()

	if err := svc.Promote(cmd.Context(), args[0], !demote); err != nil {
		return wrapErr("promote", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), `{"ok":true,"id":%q,"golden":%t}`+"\n", args[0], !demote)
	return nil
}
