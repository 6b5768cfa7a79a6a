package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/soochol/nodeflow/internal/dag"
	"github.com/soochol/nodeflow/internal/flow"
	"github.com/soochol/nodeflow/internal/graph"
)

var (
	catalogPath string

	validateCmd = &cobra.Command{
		Use:   "validate FILE",
		Short: "Check a workflow document for missing required inputs",
		Args:  cobra.ExactArgs(1),
		RunE:  runValidate,
	}

	planCmd = &cobra.Command{
		Use:   "plan FILE",
		Short: "Print the execution order of a workflow document",
		Args:  cobra.ExactArgs(1),
		RunE:  runPlan,
	}
)

func init() {
	for _, c := range []*cobra.Command{validateCmd, planCmd} {
		c.Flags().StringVar(&catalogPath, "catalog", "", "extra node-type catalog YAML")
	}
}

var errInvalid = errors.New("workflow is not valid")

func runValidate(cmd *cobra.Command, args []string) error {
	a, err := analyzerFor(args[0])
	if err != nil {
		return err
	}
	res := a.Validate()
	if err := printJSON(cmd, res); err != nil {
		return err
	}
	if !res.Valid {
		return errInvalid
	}
	return nil
}

func runPlan(cmd *cobra.Command, args []string) error {
	a, err := analyzerFor(args[0])
	if err != nil {
		return err
	}
	plan := a.Plan()
	if err := printJSON(cmd, plan); err != nil {
		return err
	}
	return plan.Err()
}

// analyzerFor decodes a JSON or YAML workflow file into an analyzer.
func analyzerFor(path string) (*dag.Analyzer, error) {
	cat, err := loadCatalog(catalogPath)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	doc, err := flow.DecodeDocument(f, flow.FormatFromPath(path))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	g, err := graph.FromDocument(doc, cat, nil)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return dag.New(g.Snapshot(), cat), nil
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
