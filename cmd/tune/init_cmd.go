package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/thalesfsp/tune/config"
)

type initCmdConfig struct {
	*rootCmdConfig
	output string
	data   string
	force  bool
}

func initCmd(rootConfig *rootCmdConfig) *cobra.Command {
	icc := &initCmdConfig{rootCmdConfig: rootConfig}

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default experiment file",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := icc.Validate(); err != nil {
				return err
			}

			exp := config.DefaultConfig()
			exp.Data = icc.data
			exp.Header = true

			if err := exp.Save(icc.output); err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", icc.output)

			return nil
		},
	}

	cmd.Flags().StringVarP(&icc.output, "output", "o", "experiment.yaml", "path of the experiment file to write")
	cmd.Flags().StringVar(&icc.data, "data", "data.csv", "CSV file the experiment reads")
	cmd.Flags().BoolVar(&icc.force, "force", false, "overwrite an existing file")

	return cmd
}

func (icc *initCmdConfig) Validate() error {
	if icc.force {
		return nil
	}

	if _, err := os.Stat(icc.output); err == nil {
		return fmt.Errorf("%s already exists, use --force to overwrite it", icc.output)
	}

	return nil
}
