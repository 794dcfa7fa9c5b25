package cmds

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/go-go-golems/vivarium/pkg/settings"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func NewConfigCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Show or write the client configuration",
	}
	cmd.AddCommand(newConfigShowCommand(), newConfigInitCommand())
	return cmd
}

func newConfigShowCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Print the effective settings",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cs, err := loadSettings()
			if err != nil {
				return err
			}
			if f := viper.ConfigFileUsed(); f != "" {
				if _, err := fmt.Fprintf(cmd.OutOrStdout(), "# %s\n", f); err != nil {
					return err
				}
			}
			return cs.WriteYAML(cmd.OutOrStdout())
		},
	}
}

func newConfigInitCommand() *cobra.Command {
	var path string
	var force bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write the effective settings to a config file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cs, err := loadSettings()
			if err != nil {
				return err
			}
			if path == "" {
				path, err = settings.DefaultConfigFile()
				if err != nil {
					return err
				}
			}
			if _, err := os.Stat(path); err == nil && !force {
				return errors.Errorf("%s exists, pass --force to overwrite", path)
			}
			if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
				return errors.Wrapf(err, "could not create %s", filepath.Dir(path))
			}

			f, err := os.Create(path)
			if err != nil {
				return errors.Wrapf(err, "could not create %s", path)
			}
			defer func() {
				_ = f.Close()
			}()
			if err := cs.WriteYAML(f); err != nil {
				return err
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", path)
			return err
		},
	}
	cmd.Flags().StringVar(&path, "path", "", "Config file (default ~/.vivarium/config.yaml)")
	cmd.Flags().BoolVar(&force, "force", false, "Overwrite an existing file")
	return cmd
}
