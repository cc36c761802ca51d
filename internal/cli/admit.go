package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func init() {
	cmd := &cobra.Command{
		Use:   "admit [story]",
		Short: "Store a verdict obtained elsewhere",
		Long:  "Store a story with its verdict. Story can be a positional arg or piped via stdin.",
		RunE:  runAdmit,
	}

	cmd.Flags().StringP("result", "r", "", "Verdict text")
	cmd.Flags().String("result-file", "", "Read the verdict from a file")
	cmd.MarkFlagsMutuallyExclusive("result", "result-file")
	cmd.MarkFlagsOneRequired("result", "result-file")

	RootCmd.AddCommand(cmd)
}

func runAdmit(cmd *cobra.Command, args []string) error {
	result, _ := cmd.Flags().GetString("result")
	resultFile, _ := cmd.Flags().GetString("result-file")
	if resultFile != "" {
		b, err := os.ReadFile(resultFile)
		if err != nil {
			return wrapErr("read result", err)
		}
		result = string(b)
	}
	story, err := readStory(cmd, args)
	if err != nil {
		return err
	}

	svc, cleanup, err := openService(cmd.Context(), false)
	if err != nil {
		return wrapErr("open", err)
	}
	defer cleanup()

	rec, created, err := svc.Admit(cmd.Context(), story, result)
	if err != nil {
		return wrapErr("admit", err)
	}

	if formatFlag == "text" {
		fmt.Fprintf(cmd.OutOrStdout(), "%s created=%t\n", rec.ID, created)
		return nil
	}
	printJSON(cmd, map[string]any{"created": created, "record": rec})
	return nil
}
