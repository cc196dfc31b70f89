package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/manifoldco/promptui"
)

// RunWizard runs an interactive configuration wizard, saves the result
// to path and returns it.
func RunWizard(path string) (*Config, error) {
	fmt.Println("Welcome to quotecall! Let's configure the call service.")
	fmt.Println()

	cfg := DefaultConfig()

	providerPrompt := promptui.Select{
		Label: "Select LLM provider",
		Items: []string{"openai", "anthropic", "openrouter"},
	}
	_, providerStr, err := providerPrompt.Run()
	if err != nil {
		return nil, fmt.Errorf("provider selection: %w", err)
	}
	cfg.Provider = ProviderType(providerStr)
	cfg.Model, cfg.ExtractionModel = DefaultModels(cfg.Provider)

	modelPrompt := promptui.Prompt{
		Label:   "Model for live call turns",
		Default: cfg.Model,
	}
	if cfg.Model, err = modelPrompt.Run(); err != nil {
		return nil, fmt.Errorf("turn model: %w", err)
	}

	extractionPrompt := promptui.Prompt{
		Label:   "Model for quote extraction",
		Default: cfg.ExtractionModel,
	}
	if cfg.ExtractionModel, err = extractionPrompt.Run(); err != nil {
		return nil, fmt.Errorf("extraction model: %w", err)
	}

	portPrompt := promptui.Prompt{
		Label:    "HTTP port",
		Default:  strconv.Itoa(cfg.Server.Port),
		Validate: validatePort,
	}
	portStr, err := portPrompt.Run()
	if err != nil {
		return nil, fmt.Errorf("port: %w", err)
	}
	cfg.Server.Port, _ = strconv.Atoi(portStr)

	dbPrompt := promptui.Prompt{
		Label:   "SQLite database path",
		Default: cfg.Database.Path,
	}
	if cfg.Database.Path, err = dbPrompt.Run(); err != nil {
		return nil, fmt.Errorf("database path: %w", err)
	}

	companyPrompt := promptui.Prompt{
		Label:   "Company name the agent introduces itself with",
		Default: cfg.Negotiation.CompanyName,
	}
	if cfg.Negotiation.CompanyName, err = companyPrompt.Run(); err != nil {
		return nil, fmt.Errorf("company name: %w", err)
	}

	secretPrompt := promptui.Prompt{
		Label: "Bridge bearer secret (blank to set QUOTECALL_BRIDGE__SECRET later)",
		Mask:  '*',
	}
	if cfg.Bridge.Secret, err = secretPrompt.Run(); err != nil {
		return nil, fmt.Errorf("bridge secret: %w", err)
	}

	if envVar := APIKeyEnvVar(cfg.Provider); envVar != "" && os.Getenv(envVar) == "" {
		fmt.Printf("\nNote: Set %s in your environment before running quotecall server.\n", envVar)
	}

	if err := cfg.Save(path); err != nil {
		return nil, fmt.Errorf("saving config: %w", err)
	}

	fmt.Printf("\nConfiguration saved to %s\n", path)
	return cfg, nil
}

func validatePort(s string) error {
	p, err := strconv.Atoi(s)
	if err != nil {
		return fmt.Errorf("port must be a number")
	}
	if p < 1 || p > 65535 {
		return fmt.Errorf("port must be between 1 and 65535")
	}
	return nil
}
