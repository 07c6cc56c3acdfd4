package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/lexcodex/acelens/framework/apimap"
	"github.com/lexcodex/acelens/framework/lens"
	"github.com/lexcodex/acelens/internal/acelens/runtime"
)

func newMapCmd() *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "map",
		Short: "Print the api name to implementation path table",
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := newRuntime(cmd.Context())
			if err != nil {
				return err
			}
			defer rt.Close()
			session, err := rt.SessionFor(rt.Config.Workspace)
			if err != nil {
				return err
			}
			m, err := session.Current(cmd.Context())
			if errors.Is(err, apimap.ErrSourcesMissing) {
				src := rt.Config.Sources(rt.Config.Workspace)
				return fmt.Errorf("api sources not found (%s, %s)", src.Declarations, src.Loaders)
			}
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(m)
			}
			for _, name := range m.Names() {
				path, _ := m.Lookup(name)
				fmt.Fprintf(out, "%s\t%s\n", name, path)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Emit JSON")
	return cmd
}

func newLensesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "lenses <file>",
		Short: "Print the code lenses for a file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := newRuntime(cmd.Context())
			if err != nil {
				return err
			}
			defer rt.Close()
			data, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			session, err := rt.SessionFor(rt.Config.Workspace)
			if err != nil {
				return err
			}
			m, err := session.Current(cmd.Context())
			if err != nil && !errors.Is(err, apimap.ErrSourcesMissing) {
				return err
			}
			abs, _ := filepath.Abs(args[0])
			doc := lens.NewDocument(abs, string(data))
			annotations := rt.Config.Annotator().AnnotateText(doc, m)
			if annotations == nil {
				annotations = []lens.Annotation{}
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(annotations)
		},
	}
	return cmd
}

func newInitCmd() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default .acelens.yaml into the workspace",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			path := filepath.Join(cfg.Workspace, runtime.ConfigFileName)
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s already exists (use --force)", path)
			}
			if err := cfg.SaveFile(path); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", path)
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "Overwrite an existing config")
	return cmd
}
