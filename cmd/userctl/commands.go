package main

import (
	"fmt"
	"os"
	"strconv"

	"github.com/pingone-bulk-users/internal/models"
	"github.com/spf13/cobra"
)

func newExportCmd(root *rootOptions) *cobra.Command {
	var req models.ExportRequest
	var output string

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export the users of a population",
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := root.client().raw(cmd.Context(), "/export-users", req)
			if err != nil {
				return err
			}
			if output == "" {
				_, err = cmd.OutOrStdout().Write(data)
				return err
			}
			if err := os.WriteFile(output, data, 0o644); err != nil {
				return fmt.Errorf("failed to write %s: %w", output, err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Export written to %s\n", output)
			return nil
		},
	}

	cmd.Flags().StringVar(&req.PopulationID, "population-id", "", "Population to export (all users when empty)")
	cmd.Flags().StringVar(&req.Fields, "fields", models.ExportFieldsBasic, "Field selection: basic, custom or all")
	cmd.Flags().StringVar(&req.Format, "format", "json", "Output format: json or csv")
	cmd.Flags().BoolVar(&req.IgnoreDisabledUsers, "ignore-disabled", false, "Leave disabled users out of the export")
	cmd.Flags().StringVar(&output, "output", "", "Write the export to this file instead of stdout")
	return cmd
}

func newModifyCmd(root *rootOptions) *cobra.Command {
	var file string
	var req models.ModifyRequest

	cmd := &cobra.Command{
		Use:   "modify",
		Short: "Update existing users from a CSV file",
		RunE: func(cmd *cobra.Command, args []string) error {
			var result models.BatchResult
			err := root.client().upload(cmd.Context(), "/modify-users", file, map[string]string{
				"populationId":      req.PopulationID,
				"createIfNotExists": strconv.FormatBool(req.CreateIfNotExists),
			}, &result)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), result)
		},
	}

	cmd.Flags().StringVar(&file, "file", "", "CSV file of users to modify (required)")
	cmd.Flags().StringVar(&req.PopulationID, "population-id", "", "Population for users created by --create-if-not-exists")
	cmd.Flags().BoolVar(&req.CreateIfNotExists, "create-if-not-exists", false, "Create users that do not exist yet")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func newDeleteCmd(root *rootOptions) *cobra.Command {
	var file string

	cmd := &cobra.Command{
		Use:   "delete",
		Short: "Delete the users listed in a CSV file",
		RunE: func(cmd *cobra.Command, args []string) error {
			var result models.BatchResult
			if err := root.client().upload(cmd.Context(), "/delete-users", file, nil, &result); err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), result)
		},
	}

	cmd.Flags().StringVar(&file, "file", "", "CSV file of users to delete (required)")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func newDeletePopulationCmd(root *rootOptions) *cobra.Command {
	var req models.PopulationDeleteRequest

	cmd := &cobra.Command{
		Use:   "delete-population",
		Short: "Delete every user of a population",
		RunE: func(cmd *cobra.Command, args []string) error {
			var result models.BatchResult
			if err := root.client().postJSON(cmd.Context(), "/population-delete", req, &result); err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), result)
		},
	}

	cmd.Flags().StringVar(&req.PopulationID, "population-id", "", "Population to empty (required)")
	_ = cmd.MarkFlagRequired("population-id")
	return cmd
}

func newSessionCmd(root *rootOptions) *cobra.Command {
	var errorsOnly bool

	cmd := &cobra.Command{
		Use:   "session <session-id>",
		Short: "Show a session, or its per-record failures with --errors",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := "/sessions/" + args[0]
			if errorsOnly {
				path += "/errors"
			}
			var out map[string]any
			if err := root.client().getJSON(cmd.Context(), path, &out); err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), out)
		},
	}

	cmd.Flags().BoolVar(&errorsOnly, "errors", false, "Show the per-record failure log")
	return cmd
}

func newCancelCmd(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "cancel <session-id>",
		Short: "Cancel a running session at its next batch boundary",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			err := root.client().postJSON(cmd.Context(), "/import/cancel", models.CancelRequest{SessionID: args[0]}, nil)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Cancellation requested for %s\n", args[0])
			return nil
		},
	}
}

func newPopulationsCmd(root *rootOptions) *cobra.Command {
	var refresh bool

	cmd := &cobra.Command{
		Use:   "populations",
		Short: "List the populations of the environment",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := "/pingone/populations"
			if refresh {
				path += "?refresh=true"
			}
			var pops []models.Population
			if err := root.client().getJSON(cmd.Context(), path, &pops); err != nil {
				return err
			}
			for _, p := range pops {
				fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\n", p.ID, p.Name)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&refresh, "refresh", false, "Bypass the server's population cache")
	return cmd
}

func newTokenCmd(root *rootOptions) *cobra.Command {
	var creds models.Credentials

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Fetch a PingOne access token through the server",
		RunE: func(cmd *cobra.Command, args []string) error {
			var body any
			if creds != (models.Credentials{}) {
				body = creds
			}
			var out map[string]any
			if err := root.client().postJSON(cmd.Context(), "/pingone/get-token", body, &out); err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), out)
		},
	}

	cmd.Flags().StringVar(&creds.ClientID, "client-id", "", "Worker application client id (overrides stored settings)")
	cmd.Flags().StringVar(&creds.ClientSecret, "client-secret", "", "Worker application client secret")
	cmd.Flags().StringVar(&creds.EnvironmentID, "environment-id", "", "PingOne environment id")
	cmd.Flags().StringVar(&creds.Region, "region", "", "PingOne region: NA, EU, CA, AP or AU")
	return cmd
}
