// Package commands implements the cvapi CLI commands.
package commands

import (
	"encoding/json"
	"fmt"
	"os"
	"syscall"

	"github.com/spf13/viper"
	"golang.org/x/term"
	"gopkg.in/yaml.v3"

	"github.com/cloudvault-io/cvapi/pkg/cvapi"
	"github.com/cloudvault-io/cvapi/pkg/cvclient"
)

// sdkConfig assembles a cvapi.Config from flags, environment, and the config
// file.
func sdkConfig() *cvapi.Config {
	config := &cvapi.Config{
		ClientID:     viper.GetString("client_id"),
		ClientSecret: viper.GetString("client_secret"),
		APIRoot:      viper.GetString("api"),
		Debug:        viper.GetBool("verbose"),
	}

	if keyFile := viper.GetString("app_auth.private_key_file"); keyFile != "" {
		key, err := os.ReadFile(keyFile)
		if err == nil {
			config.AppAuth = &cvapi.AppAuthConfig{
				KeyID:      viper.GetString("app_auth.key_id"),
				PrivateKey: key,
				Passphrase: viper.GetString("app_auth.passphrase"),
				Algorithm:  viper.GetString("app_auth.algorithm"),
			}
		}
	}

	return config
}

// buildClient creates an API client from the active configuration, preferring
// a developer token, then app auth, then client credentials.
func buildClient() (*cvclient.Client, error) {
	config := sdkConfig()

	if token := viper.GetString("token"); token != "" {
		return cvclient.NewWithDeveloperToken(config, token)
	}

	if config.AppAuth != nil {
		if config.AppAuth.Passphrase == "" && viper.GetBool("app_auth.prompt_passphrase") {
			passphrase, err := promptPassphrase()
			if err != nil {
				return nil, err
			}

			config.AppAuth.Passphrase = passphrase
		}

		subjectType := cvclient.SubjectEnterprise
		subjectID := viper.GetString("app_auth.enterprise_id")

		if userID := viper.GetString("app_auth.user_id"); userID != "" {
			subjectType = cvclient.SubjectUser
			subjectID = userID
		}

		return cvclient.NewWithAppAuth(config, subjectType, subjectID)
	}

	return cvclient.NewAnonymous(config)
}

// promptPassphrase reads the signing-key passphrase without echoing it.
func promptPassphrase() (string, error) {
	fmt.Fprint(os.Stderr, "Private key passphrase: ")

	passphrase, err := term.ReadPassword(syscall.Stdin)

	fmt.Fprintln(os.Stderr)

	if err != nil {
		return "", fmt.Errorf("reading passphrase: %w", err)
	}

	return string(passphrase), nil
}

// printObject renders a value in the configured output format. Table output
// falls back to YAML for non-tabular values.
func printObject(value interface{}) error {
	switch viper.GetString("output") {
	case "json":
		encoder := json.NewEncoder(os.Stdout)
		encoder.SetIndent("", "  ")

		return encoder.Encode(value)
	default:
		encoder := yaml.NewEncoder(os.Stdout)
		defer func() {
			_ = encoder.Close()
		}()

		return encoder.Encode(value)
	}
}
