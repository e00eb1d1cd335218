package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/oddlyrohit/councilscraper/internal/mapping"
	"github.com/oddlyrohit/councilscraper/internal/model"
)

var mappingCmd = &cobra.Command{
	Use:   "mapping",
	Short: "Manage learned field mappings",
}

// -- mapping show --

var mappingShowCmd = &cobra.Command{
	Use:   "show <source-code>",
	Short: "Show the cached mapping for a source",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		m, err := st.FieldMapping(ctx, args[0])
		if err != nil {
			return eris.Wrap(err, "mapping show")
		}
		if m == nil {
			return eris.Errorf("no mapping learned for %s", args[0])
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(m)
	},
}

// -- mapping learn --

var mappingLearnCmd = &cobra.Command{
	Use:   "learn <source-code>",
	Short: "Fetch sample records and learn a fresh mapping",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initPipeline(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		samples, err := fetchSamples(ctx, env, args[0])
		if err != nil {
			return err
		}

		m, err := env.Learner.Learn(ctx, args[0], samples, true)
		if err != nil {
			return eris.Wrapf(err, "learn %s", args[0])
		}

		fmt.Printf("Learned %d fields for %s (confidence %.2f).\n",
			m.MappedFieldCount(), args[0], m.Confidence)
		report := mapping.Validate(m, samples)
		if !report.Valid() {
			fmt.Fprintln(os.Stderr, "Warning: mapping does not cover every essential field.")
		}
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(report)
	},
}

// -- mapping validate --

var mappingValidateCmd = &cobra.Command{
	Use:   "validate <source-code>",
	Short: "Measure the cached mapping against live records",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initPipeline(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		m, err := env.Mappings.Get(ctx, args[0])
		if err != nil {
			return eris.Wrapf(err, "validate %s", args[0])
		}

		samples, err := fetchSamples(ctx, env, args[0])
		if err != nil {
			return err
		}

		report := mapping.Validate(m, samples)
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(report); err != nil {
			return err
		}
		if !report.Valid() {
			return eris.Errorf("mapping for %s is missing essential fields", args[0])
		}
		return nil
	},
}

// -- mapping invalidate --

var mappingInvalidateCmd = &cobra.Command{
	Use:   "invalidate <source-code>",
	Short: "Drop the cached mapping so the next run relearns it",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initPipeline(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		if err := env.Mappings.Invalidate(ctx, args[0]); err != nil {
			return eris.Wrapf(err, "invalidate %s", args[0])
		}
		fmt.Printf("Mapping for %s invalidated.\n", args[0])
		return nil
	},
}

func fetchSamples(ctx context.Context, env *pipelineEnv, sourceCode string) ([]model.RawRecord, error) {
	adapter, err := env.Registry.Resolve(sourceCode)
	if err != nil {
		return nil, err
	}

	records, err := adapter.FetchCurrent(ctx, env.Proxies.CurrentTier(sourceCode))
	if err != nil {
		return nil, eris.Wrapf(err, "fetch samples from %s", sourceCode)
	}
	if len(records) == 0 {
		return nil, eris.Errorf("%s returned no records to sample", sourceCode)
	}

	n := cfg.Scraper.MappingSampleSize
	if n <= 0 || n > len(records) {
		n = len(records)
	}
	return records[:n], nil
}

func init() {
	mappingCmd.AddCommand(mappingShowCmd)
	mappingCmd.AddCommand(mappingLearnCmd)
	mappingCmd.AddCommand(mappingValidateCmd)
	mappingCmd.AddCommand(mappingInvalidateCmd)
	rootCmd.AddCommand(mappingCmd)
}
