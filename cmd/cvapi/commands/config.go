package commands

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// Keys whose values never appear in config output.
var sensitiveConfigKeys = map[string]bool{
	"client_secret":       true,
	"token":               true,
	"app_auth.passphrase": true,
}

// NewConfigCommand creates the config command group.
func NewConfigCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage CLI configuration",
	}

	cmd.AddCommand(newConfigShowCommand())
	cmd.AddCommand(newConfigSetCommand())

	return cmd
}

func newConfigShowCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Show the active configuration",
		Long:  "Display the merged configuration from flags, environment, and the config file, with secrets masked",
		RunE: func(cmd *cobra.Command, args []string) error {
			settings := map[string]interface{}{}

			for _, key := range viper.AllKeys() {
				value := viper.Get(key)
				if sensitiveConfigKeys[key] && value != "" {
					value = "********"
				}

				settings[key] = value
			}

			encoder := yaml.NewEncoder(os.Stdout)
			defer func() {
				_ = encoder.Close()
			}()

			return encoder.Encode(settings)
		},
	}
}

func newConfigSetCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "set <key> <value>",
		Short: "Set a configuration value",
		Long:  "Persist a configuration value to $HOME/.cvapi/config.yml",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			viper.Set(args[0], args[1])

			if viper.ConfigFileUsed() != "" {
				return viper.WriteConfig()
			}

			home, err := os.UserHomeDir()
			if err != nil {
				return fmt.Errorf("locating home directory: %w", err)
			}

			dir := filepath.Join(home, ".cvapi")
			if err := os.MkdirAll(dir, 0o700); err != nil {
				return fmt.Errorf("creating config directory: %w", err)
			}

			return viper.WriteConfigAs(filepath.Join(dir, "config.yml"))
		},
	}
}
