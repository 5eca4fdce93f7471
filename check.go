package main

import (
	"errors"

	"github.com/spf13/cobra"

	"sdcampaign/core"
	"sdcampaign/core/validation"
	"sdcampaign/imagegen/sd"
)

func (a *app) checkCommand() *cobra.Command {
	var failFast bool
	cmd := &cobra.Command{
		Use:   "check",
		Short: "Check configuration, directories and WebUI reachability without generating",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := a.loadConfig(cmd)
			if err != nil {
				return err
			}
			client := sd.NewClient(sd.ClientConfig{BaseURL: cfg.ServerURL, ProbePath: cfg.ProbePath}, nil)

			result := validation.NewSuite(cfg, client).
				WithOutput(a.stdout).
				WithEnvPath(a.envFile).
				WithFailFast(failFast).
				Validate(cmd.Context())
			if !result.Success {
				if err := result.FirstError(); err != nil {
					return err
				}
				return errors.New(result.Summary())
			}
			a.exitCode = core.ExitCodeSuccess
			return nil
		},
	}
	cmd.Flags().BoolVar(&failFast, "fail-fast", false, "stop at the first failed check")
	return cmd
}
