package commands

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/jbctechsolutions/tempo/internal/adapters/remote/httpstore"
	"github.com/jbctechsolutions/tempo/internal/infrastructure/config"
	"github.com/jbctechsolutions/tempo/internal/infrastructure/crypto"
	"github.com/jbctechsolutions/tempo/internal/presentation/cli/output"
)

// InitResult holds the result of the init command for JSON output.
type InitResult struct {
	ConfigDir   string `json:"config_dir"`
	ConfigFile  string `json:"config_file"`
	DataDir     string `json:"data_dir"`
	Initialized bool   `json:"initialized"`
}

// NewInitCmd creates the init command.
func NewInitCmd() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Initialize tempo configuration",
		Long: `Initialize tempo configuration interactively.

The initialization process will:
  • Create the ~/.tempo/ directory
  • Prompt for the account, device label and remote store
  • Store the remote API token encrypted in config.yaml
  • Optionally enable Redis device presence

With -o json the prompts are skipped and defaults are written.`,
		Annotations: map[string]string{skipAppInit: "true"},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInit(newFormatter(cmd), cmd.InOrStdin(), force)
		},
	}

	cmd.Flags().BoolVarP(&force, "force", "f", false, "overwrite existing configuration")

	return cmd
}

// prompter handles interactive user input.
type prompter struct {
	reader    *bufio.Reader
	formatter *output.Formatter
}

// newPrompter creates a new prompter.
func newPrompter(in io.Reader, formatter *output.Formatter) *prompter {
	return &prompter{
		reader:    bufio.NewReader(in),
		formatter: formatter,
	}
}

// prompt asks a question and returns the answer (or default if empty).
func (p *prompter) prompt(question, defaultValue string) (string, error) {
	if defaultValue != "" {
		p.formatter.Print("%s [%s]: ", question, defaultValue)
	} else {
		p.formatter.Print("%s: ", question)
	}

	answer, err := p.reader.ReadString('\n')
	if err != nil && err != io.EOF {
		return "", fmt.Errorf("failed to read input: %w", err)
	}

	answer = strings.TrimSpace(answer)
	if answer == "" {
		return defaultValue, nil
	}
	return answer, nil
}

// promptYesNo asks a yes/no question and returns true for yes.
func (p *prompter) promptYesNo(question string, defaultYes bool) (bool, error) {
	defaultStr := "y/N"
	if defaultYes {
		defaultStr = "Y/n"
	}

	answer, err := p.prompt(question+" ["+defaultStr+"]", "")
	if err != nil {
		return false, err
	}

	answer = strings.ToLower(answer)
	if answer == "" {
		return defaultYes, nil
	}
	return answer == "y" || answer == "yes", nil
}

func runInit(formatter *output.Formatter, in io.Reader, force bool) error {
	loader, err := config.NewLoader("")
	if err != nil {
		return fmt.Errorf("failed to create config loader: %w", err)
	}

	configFile := globalFlags.ConfigFile
	if configFile == "" {
		configFile = loader.DefaultConfigPath()
	}
	result := InitResult{
		ConfigDir:  loader.ConfigDir(),
		ConfigFile: configFile,
	}

	if _, err := os.Stat(configFile); err == nil && !force {
		if formatter.Format() == output.FormatJSON {
			return formatter.JSON(result)
		}
		formatter.Warning("Configuration already exists at %s", configFile)
		formatter.Info("Use --force to overwrite existing configuration")
		return nil
	}

	cfg := config.NewDefaultConfig()

	if formatter.Format() != output.FormatJSON {
		if err := promptConfig(newPrompter(in, formatter), formatter, loader.ConfigDir(), cfg); err != nil {
			return err
		}
	}

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if err := loader.Save(cfg, configFile); err != nil {
		return err
	}

	result.DataDir = cfg.Storage.DataDir
	result.Initialized = true

	if formatter.Format() == output.FormatJSON {
		return formatter.JSON(result)
	}

	formatter.Println("")
	formatter.Success("Configuration initialized successfully!")
	formatter.Println("")
	formatter.Item("Config directory", result.ConfigDir)
	formatter.Item("Config file", result.ConfigFile)
	formatter.Item("Data directory", result.DataDir)
	formatter.Println("")
	formatter.Info("Run 'tempo status' to check the sync engine")
	formatter.Info("Run 'tempo daemon' to keep syncing in the background")

	return nil
}

// promptConfig walks the user through the settings worth changing up front.
func promptConfig(p *prompter, formatter *output.Formatter, configDir string, cfg *config.Config) error {
	formatter.Header("Tempo Configuration")
	formatter.Println("")

	formatter.SubHeader("Account")
	userID, err := p.prompt("User ID", cfg.Account.UserID)
	if err != nil {
		return err
	}
	cfg.Account.UserID = userID

	hostname, _ := os.Hostname()
	label, err := p.prompt("Device label", hostname)
	if err != nil {
		return err
	}
	cfg.Account.DeviceLabel = label
	formatter.Println("")

	formatter.SubHeader("Remote Store")
	backend, err := p.prompt("Backend (memory, http)", cfg.Remote.Backend)
	if err != nil {
		return err
	}
	cfg.Remote.Backend = backend

	if backend == httpstore.Backend {
		baseURL, err := p.prompt("Base URL", "")
		if err != nil {
			return err
		}
		cfg.Remote.BaseURL = baseURL

		formatter.Println("%s", formatter.Dim("The API token is stored encrypted in config.yaml"))
		token, err := p.prompt("API token", "")
		if err != nil {
			return err
		}
		if token != "" {
			encryptor, err := crypto.NewEncryptor(configDir)
			if err != nil {
				return fmt.Errorf("failed to initialize encryption: %w", err)
			}
			encrypted, err := encryptor.Seal(token, baseURL)
			if err != nil {
				return fmt.Errorf("failed to encrypt API token: %w", err)
			}
			cfg.Remote.APITokenEncrypted = encrypted
		}
	}
	formatter.Println("")

	formatter.SubHeader("Device Presence (Optional)")
	enablePresence, err := p.promptYesNo("Share device presence through Redis", false)
	if err != nil {
		return err
	}
	cfg.Presence.Enabled = enablePresence
	if enablePresence {
		addr, err := p.prompt("Redis address", cfg.Presence.RedisAddr)
		if err != nil {
			return err
		}
		cfg.Presence.RedisAddr = addr
	}

	return nil
}
