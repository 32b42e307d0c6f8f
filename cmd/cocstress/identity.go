package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/TheusHen/cocstress/coc/identity"
)

var identityCmd = &cobra.Command{
	Use:   "identity [seed]",
	Short: "Print the device address derived from a seed",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		seed := cfg.Transport.Seed
		if len(args) == 1 {
			seed = args[0]
		}
		if seed == "" {
			kp, err := identity.GenerateKeyPair()
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), kp.Address())
			return nil
		}
		fmt.Fprintln(cmd.OutOrStdout(), identity.KeyPairFromSeed(seed).Address())
		return nil
	},
}

func init() {
	rootCmd.AddCommand(identityCmd)
}
