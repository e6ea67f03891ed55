package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jihwankim/irrig-core/internal/config"
)

var validateConfigCmd = &cobra.Command{
	Use:   "validate-config",
	Args:  cobra.NoArgs,
	Short: "Validate the process and I/O configuration without starting the controller",
	RunE:  runValidateConfig,
}

func runValidateConfig(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("process config: %w", err)
	}

	adcPins := make(map[int]bool, 8)
	for p := 0; p < 8; p++ {
		adcPins[p] = true
	}

	store := config.NewIoConfigStore(cfg.Server.IoConfigPath, adcPins)
	if err := store.Load(); err != nil {
		return fmt.Errorf("io config %s: %w", cfg.Server.IoConfigPath, err)
	}

	ioCfg := store.Get()
	fmt.Printf("configuration valid: %d I/O points, listen_addr=%s\n", len(ioCfg.Points), cfg.Server.ListenAddr)
	return nil
}
