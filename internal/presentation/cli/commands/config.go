package commands

import (
	"fmt"
	"strings"

	"github.com/chzyer/readline"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/jbctechsolutions/tempo/internal/infrastructure/config"
	"github.com/jbctechsolutions/tempo/internal/infrastructure/crypto"
	"github.com/jbctechsolutions/tempo/internal/presentation/cli/output"
)

const redacted = "********"

// NewConfigCmd creates the config command group.
func NewConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:         "config",
		Short:       "Inspect and edit configuration",
		Annotations: map[string]string{skipAppInit: "true"},
	}

	cmd.AddCommand(newConfigShowCmd())
	cmd.AddCommand(newConfigSetTokenCmd())

	return cmd
}

func newConfigShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration",
		Long: `Print the configuration after defaults are applied.
Secrets are redacted.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := loadConfig(globalFlags.ConfigFile)
			if err != nil {
				return err
			}
			if globalFlags.User != "" {
				cfg.Account.UserID = globalFlags.User
			}
			return runConfigShow(newFormatter(cmd), cfg)
		},
	}
}

func runConfigShow(formatter *output.Formatter, cfg *config.Config) error {
	shown := *cfg
	if shown.Remote.APITokenEncrypted != "" {
		shown.Remote.APITokenEncrypted = redacted
	}
	if shown.Presence.RedisPassword != "" {
		shown.Presence.RedisPassword = redacted
	}

	if formatter.Format() == output.FormatJSON {
		return formatter.JSON(shown)
	}

	data, err := yaml.Marshal(&shown)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	return formatter.Print("%s", data)
}

func newConfigSetTokenCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "set-token [token]",
		Short: "Store the remote API token encrypted",
		Long: `Encrypt the API token of the HTTP remote store and save it to the
config file. Without an argument the token is read without echo.

The sealed token only opens on this machine and for the current
remote.base_url, so set the base URL first.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			token := ""
			if len(args) == 1 {
				token = args[0]
			} else {
				rl, err := readline.New("")
				if err != nil {
					return fmt.Errorf("could not create readline: %w", err)
				}
				defer rl.Close()
				raw, err := rl.ReadPassword("API token: ")
				if err != nil {
					return err
				}
				token = string(raw)
			}
			return runSetToken(newFormatter(cmd), strings.TrimSpace(token))
		},
	}
}

func runSetToken(formatter *output.Formatter, token string) error {
	if token == "" {
		return fmt.Errorf("token must not be empty")
	}

	loader, err := config.NewLoader("")
	if err != nil {
		return fmt.Errorf("failed to create config loader: %w", err)
	}
	path := globalFlags.ConfigFile
	if path == "" {
		path = loader.DefaultConfigPath()
	}
	cfg, err := loader.Load(path)
	if err != nil {
		return err
	}

	encryptor, err := crypto.NewEncryptor(loader.ConfigDir())
	if err != nil {
		return fmt.Errorf("failed to initialize encryption: %w", err)
	}
	encrypted, err := encryptor.Seal(token, cfg.Remote.BaseURL)
	if err != nil {
		return fmt.Errorf("failed to encrypt API token: %w", err)
	}
	cfg.Remote.APITokenEncrypted = encrypted

	if err := loader.Save(cfg, path); err != nil {
		return err
	}

	if formatter.Format() == output.FormatJSON {
		return formatter.JSON(map[string]string{"config_file": path, "status": "saved"})
	}
	formatter.Success("API token saved to %s", path)
	return nil
}
