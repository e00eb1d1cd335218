package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/oddlyrohit/councilscraper/internal/model"
)

var sourcesCmd = &cobra.Command{
	Use:   "sources",
	Short: "Manage council portal sources",
}

// -- sources list --

var sourcesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List registered sources",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		sources, err := st.ListSources(ctx)
		if err != nil {
			return eris.Wrap(err, "sources list")
		}
		if len(sources) == 0 {
			fmt.Fprintln(os.Stderr, "No sources registered.")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "CODE\tNAME\tSTATE\tTIER\tTYPE\tAPPLICATIONS")
		for _, src := range sources {
			count, err := st.CountApplications(ctx, src.Code)
			if err != nil {
				return eris.Wrapf(err, "count %s", src.Code)
			}
			portalType := src.PortalType
			if portalType == "" {
				portalType = "json"
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\t%d\n",
				src.Code, src.Name, src.State, src.Tier, portalType, count)
		}
		return w.Flush()
	},
}

// -- sources add --

var addSource model.Source

var sourcesAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Register or update a source",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		if addSource.Code == "" || addSource.PortalURL == "" {
			return eris.New("--code and --url are required")
		}
		if addSource.Tier < 1 || addSource.Tier > 4 {
			return eris.New("--tier must be between 1 and 4")
		}

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		if err := st.UpsertSource(ctx, addSource); err != nil {
			return eris.Wrapf(err, "add source %s", addSource.Code)
		}
		fmt.Printf("Source %s saved.\n", addSource.Code)
		return nil
	},
}

// -- sources health --

var sourcesHealthCmd = &cobra.Command{
	Use:   "health <source-code>",
	Short: "Probe a source's portal",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initPipeline(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		adapter, err := env.Registry.Resolve(args[0])
		if err != nil {
			return err
		}

		status, err := adapter.CheckHealth(ctx)
		if err != nil {
			return eris.Wrapf(err, "health %s", args[0])
		}
		if status.OK {
			fmt.Printf("%s: healthy (%dms)\n", args[0], status.ResponseTimeMS)
			return nil
		}
		fmt.Printf("%s: unhealthy: %s\n", args[0], status.Message)
		return nil
	},
}

func init() {
	sourcesAddCmd.Flags().StringVar(&addSource.Code, "code", "", "unique source code")
	sourcesAddCmd.Flags().StringVar(&addSource.Name, "name", "", "council name")
	sourcesAddCmd.Flags().StringVar(&addSource.State, "state", "", "state abbreviation (NSW, VIC, ...)")
	sourcesAddCmd.Flags().IntVar(&addSource.Tier, "tier", 3, "scrape priority tier (1 = highest)")
	sourcesAddCmd.Flags().StringVar(&addSource.PortalURL, "url", "", "portal endpoint URL")
	sourcesAddCmd.Flags().StringVar(&addSource.PortalType, "type", "json", "portal type")

	sourcesCmd.AddCommand(sourcesListCmd)
	sourcesCmd.AddCommand(sourcesAddCmd)
	sourcesCmd.AddCommand(sourcesHealthCmd)
	rootCmd.AddCommand(sourcesCmd)
}
