package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/Ilnur7571/INVEST-Checker-Agent/internal/model"
)

func init() {
	export := &cobra.Command{
		Use:   "export",
		Short: "Export all records as JSON",
		Long:  "Export every record in creation order as a JSON array.",
		RunE:  runExport,
	}
	export.Flags().StringP("output", "o", "", "Write to file instead of stdout")

	imp := &cobra.Command{
		Use:   "import [file]",
		Short: "Import records from JSON",
		Long:  "Import records from JSON (file or stdin). Expects the format produced by export. Stories already stored are skipped.",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runImport,
	}

	stats := &cobra.Command{
		Use:   "stats",
		Short: "Show cache statistics",
		RunE:  runStats,
	}

	reindex := &cobra.Command{
		Use:   "reindex",
		Short: "Rebuild the similarity index from the store",
		Long:  "Rebuild the similarity index. With --renormalize, stored normalized texts are first recomputed under the current rules.",
		RunE:  runReindex,
	}
	reindex.Flags().Bool("renormalize", false, "Recompute normalized texts before rebuilding")

	RootCmd.AddCommand(export, imp, stats, reindex)
}

func runExport(cmd *cobra.Command, args []string) error {
	output, _ := cmd.Flags().GetString("output")

	svc, cleanup, err := openService(cmd.Context(), false)
	if err != nil {
		return wrapErr("open", err)
	}
	defer cleanup()

	records, err := svc.Export(cmd.Context())
	if err != nil {
		return wrapErr("export", err)
	}

	if output == "" {
		printJSON(cmd, records)
		return nil
	}
	b, _ := json.MarshalIndent(records, "", "  ")
	if err := os.WriteFile(output, append(b, '\n'), 0o644); err != nil {
		return wrapErr("write export", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), `{"ok":true,"exported":%d,"path":%q}`+"\n", len(records), output)
	return nil
}

func runImport(cmd *cobra.Command, args []string) error {
	var data []byte
	var err error
	if len(args) == 1 {
		data, err = os.ReadFile(args[0])
	} else {
		data, err = io.ReadAll(cmd.InOrStdin())
	}
	if err != nil {
		return wrapErr("read input", err)
	}

	var records []model.Record
	if err := json.Unmarshal(data, &records); err != nil {
		return wrapErr("parse json", err)
	}

	svc, cleanup, err := openService(cmd.Context(), false)
	if err != nil {
		return wrapErr("open", err)
	}
	defer cleanup()

	imported, skipped, err := svc.Import(cmd.Context(), records)
	if err != nil {
		return wrapErr("import", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), `{"ok":true,"imported":%d,"skipped":%d}`+"\n", imported, skipped)
	return nil
}

func runStats(cmd *cobra.Command, args []string) error {
	svc, cleanup, err := openService(cmd.Context(), false)
	if err != nil {
		return wrapErr("open", err)
	}
	defer cleanup()

	stats, err := svc.Stats(cmd.Context())
	if err != nil {
		return wrapErr("stats", err)
	}
	printJSON(cmd, stats)
	return nil
}

func runReindex(cmd *cobra.Command, args []string) error {
	renormalize, _ := cmd.Flags().GetBool("renormalize")

	svc, cleanup, err := openService(cmd.Context(), false)
	if err != nil {
		return wrapErr("open", err)
	}
	defer cleanup()

	changed := 0
	if renormalize {
		changed, err = svc.Renormalize(cmd.Context())
	} else {
		err = svc.Rebuild(cmd.Context())
	}
	if err != nil {
		return wrapErr("reindex", err)
	}

	stats, err := svc.Stats(cmd.Context())
	if err != nil {
		return wrapErr("stats", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), `{"ok":true,"indexed":%d,"renormalized":%d,"normalization_version":%q}`+"\n",
		stats.IndexedRecords, changed, stats.Normalization)
	return nil
}
