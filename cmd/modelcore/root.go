package main

import (
	"os"
	"strings"

	"github.com/spf13/cobra"

	"modelcore/internal/config"
	"modelcore/internal/logging"
	"modelcore/internal/manager"
	"modelcore/internal/params"
	"modelcore/internal/registry"
)

// options are the flags shared by every subcommand.
type options struct {
	configPath string
	logLevel   string
	logFormat  string

	// overrides applied on top of the config file
	modelsDir    string
	defaultModel string
	budgetMB     int
	marginMB     int
}

func newRootCmd() *cobra.Command {
	o := &options{}
	root := &cobra.Command{
		Use:           "modelcore",
		Short:         "Load, serve and invoke LLM deployments behind one streaming contract",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	pf := root.PersistentFlags()
	pf.StringVar(&o.configPath, "config", os.Getenv("MODELCORE_CONFIG"), "Config file (.yaml, .yml, .json or .toml)")
	pf.StringVar(&o.logLevel, "log-level", "", "Log level: debug|info|warn|error (overrides config)")
	pf.StringVar(&o.logFormat, "log-format", "", "Log format: console|json (overrides config)")
	pf.StringVar(&o.modelsDir, "models-dir", "", "Directory to scan for *.gguf model files")
	pf.StringVar(&o.defaultModel, "default-model", "", "Default deployment when a request omits model")
	pf.IntVar(&o.budgetMB, "vram-budget-mb", 0, "VRAM budget in MB for all instances (0=unlimited)")
	pf.IntVar(&o.marginMB, "vram-margin-mb", 0, "Reserved VRAM margin in MB to keep free")

	root.AddCommand(newServeCmd(o), newAdaptersCmd(o), newGenerateCmd(o), newCheckCmd(o))
	return root
}

// load reads the config file (if any), applies flag overrides and sets up
// logging.
func (o *options) load() (config.Config, error) {
	var cfg config.Config
	if o.configPath != "" {
		c, err := config.Load(o.configPath)
		if err != nil {
			return cfg, err
		}
		cfg = c
	}
	if o.logLevel != "" {
		cfg.LogLevel = o.logLevel
	}
	if o.logFormat != "" {
		cfg.LogFormat = o.logFormat
	}
	if o.modelsDir != "" {
		cfg.ModelsDir = o.modelsDir
	}
	if o.defaultModel != "" {
		cfg.DefaultModel = o.defaultModel
	}
	if o.budgetMB > 0 {
		cfg.VRAMBudgetMB = o.budgetMB
	}
	if o.marginMB > 0 {
		cfg.VRAMMarginMB = o.marginMB
	}
	logging.Setup(cfg.LogLevel, cfg.LogFormat)
	return cfg, nil
}

// deployments merges configured records with GGUF files found in
// models_dir. An unreadable models_dir is logged and skipped.
func deployments(cfg config.Config) ([]params.Deploy, error) {
	configured, err := cfg.Deployments()
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(cfg.ModelsDir) == "" {
		return configured, nil
	}
	found, err := registry.LoadDir(cfg.ModelsDir)
	if err != nil {
		l := logging.For("main")
		l.Warn().Err(err).Str("models_dir", cfg.ModelsDir).Msg("skipping model directory scan")
		return configured, nil
	}
	return registry.Merge(configured, found), nil
}

// newManager builds the worker from cfg with the builtin adapter catalog.
func newManager(cfg config.Config) (*manager.Manager, error) {
	deps, err := deployments(cfg)
	if err != nil {
		return nil, err
	}
	return manager.New(manager.Config{
		Registry:      registry.Builtin(nil),
		Deployments:   deps,
		DefaultModel:  cfg.DefaultModel,
		BudgetMB:      cfg.VRAMBudgetMB,
		MarginMB:      cfg.VRAMMarginMB,
		MaxQueueDepth: cfg.MaxQueueDepth,
		MaxWait:       cfg.MaxWait.D(),
		DrainTimeout:  cfg.DrainTimeout.D(),
		Publisher:     eventLog(),
	})
}

// splitCSV splits a comma-separated list, dropping blanks.
func splitCSV(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
