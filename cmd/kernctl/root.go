package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"oskern/internal/kernel"
)

// bootConfig mirrors kernel.Config with the struct tags viper needs to
// unmarshal a config file or flag set into it, the way gcsfuse's cfg.Config
// binds its own flag set rather than hand-rolling a flag-by-flag copy.
type bootConfig struct {
	NumFrames      int    `mapstructure:"num-frames"`
	SwapDevicePath string `mapstructure:"swap-device"`
	SwapSlots      int    `mapstructure:"swap-slots"`
	Seed           int64  `mapstructure:"seed"`
	ConsoleBuffer  int    `mapstructure:"console-buffer"`
}

var (
	cfgFile string
	boot    bootConfig
)

var rootCmd = &cobra.Command{
	Use:   "kernctl",
	Short: "Boot and drive the teaching kernel core from the command line",
	Long: `kernctl boots the synchronization, memory, address-space, fault
and process/file subsystems into a single in-process kernel and offers
subcommands that exercise its syscall dispatcher end to end, standing in
for the trap dispatch, console and ELF loader this kernel treats as
interface-only boundaries.`,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	pf := rootCmd.PersistentFlags()
	pf.StringVar(&cfgFile, "config-file", "", "path to a kernctl config file")
	pf.Int("num-frames", 1024, "number of simulated physical frames")
	pf.String("swap-device", "", "path to a swap backing file (empty disables swap)")
	pf.Int("swap-slots", 0, "number of swap slots to track (0 = device capacity)")
	pf.Int64("seed", 1, "PRNG seed for eviction and TLB replacement")
	pf.Int("console-buffer", 4096, "console ring buffer capacity in bytes")

	_ = viper.BindPFlags(pf)
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
		if err := viper.ReadInConfig(); err != nil {
			fmt.Fprintf(os.Stderr, "kernctl: reading config file: %v\n", err)
		}
	}
	if err := viper.Unmarshal(&boot); err != nil {
		fmt.Fprintf(os.Stderr, "kernctl: binding config: %v\n", err)
	}
}

func (c bootConfig) toKernelConfig() kernel.Config {
	return kernel.Config{
		NumFrames:      c.NumFrames,
		SwapDevicePath: c.SwapDevicePath,
		SwapSlots:      c.SwapSlots,
		Seed:           c.Seed,
		ConsoleBuffer:  c.ConsoleBuffer,
	}
}
