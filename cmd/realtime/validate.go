package main

import (
	"fmt"

	"github.com/autom8ter/realtime/util"
	"github.com/spf13/cobra"
)

func validateCmd() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "validate a config file and print it as yaml",
		RunE: func(_ *cobra.Command, _ []string) error {
			cfg, err := loadConfig(configPath)
			if err != nil {
				return err
			}
			cfg.Mongo.URI = "<redacted>"
			if cfg.JWT != nil {
				cfg.JWT.Secret = "<redacted>"
			}
			if cfg.Redis != nil {
				cfg.Redis.Password = "<redacted>"
			}
			bits, err := util.JSONToYAML([]byte(util.JSONString(cfg)))
			if err != nil {
				return err
			}
			fmt.Println(string(bits))
			return nil
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "realtime.yaml", "path to the yaml config file")
	return cmd
}
