package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/TheusHen/cocstress/coc"
	"github.com/TheusHen/cocstress/coc/discovery"
	"github.com/TheusHen/cocstress/coc/discovery/memory"
	"github.com/TheusHen/cocstress/coc/identity"
	"github.com/TheusHen/cocstress/coc/link"
	"github.com/TheusHen/cocstress/coc/link/quic"
	"github.com/TheusHen/cocstress/coc/stress"
)

var (
	peripheralFlags scenarioFlags
	centralFlags    scenarioFlags
	listenAddr      string
	peerEndpoints   []string
)

var peripheralCmd = &cobra.Command{
	Use:   "peripheral",
	Short: "Serve the peripheral role over QUIC",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := peripheralFlags.apply(cmd); err != nil {
			return err
		}
		if cmd.Flags().Changed("listen") {
			cfg.Transport.Listen = listenAddr
		}
		return runPeripheral(cmd.Context(), cmd)
	},
}

var centralCmd = &cobra.Command{
	Use:   "central",
	Short: "Drive the central role over QUIC against running peripherals",
	RunE: func(cmd *cobra.Command, args []string) error {
		if len(peerEndpoints) > 0 {
			cfg.Transport.Peers = peerEndpoints
		}
		if len(cfg.Transport.Peers) == 0 {
			return fmt.Errorf("no peers: pass --peer ADDRESS@host:port")
		}
		if !cmd.Flags().Changed("peers") {
			cfg.Scenario.Peers = len(cfg.Transport.Peers)
		}
		if err := centralFlags.apply(cmd); err != nil {
			return err
		}
		return runCentral(cmd.Context(), cmd)
	},
}

func init() {
	peripheralFlags.register(peripheralCmd)
	peripheralCmd.Flags().StringVar(&listenAddr, "listen", "127.0.0.1:7480", "UDP address to listen on")
	centralFlags.register(centralCmd)
	centralCmd.Flags().StringArrayVar(&peerEndpoints, "peer", nil, "peripheral endpoint ADDRESS@host:port (repeatable)")
	rootCmd.AddCommand(peripheralCmd, centralCmd)
}

func deviceKey() (identity.KeyPair, error) {
	if cfg.Transport.Seed != "" {
		return identity.KeyPairFromSeed(cfg.Transport.Seed), nil
	}
	return identity.GenerateKeyPair()
}

func quicOptions() quic.Options {
	return quic.Options{
		Compress:         cfg.Transport.Compress,
		HandshakeTimeout: cfg.Transport.HandshakeTimeout,
		IdleTimeout:      cfg.Transport.IdleTimeout,
		Logger:           log,
	}
}

func runPeripheral(ctx context.Context, cmd *cobra.Command) error {
	kp, err := deviceKey()
	if err != nil {
		return err
	}
	store := memory.New()
	h, err := coc.NewHost(cfg.HostConfig(log), func(lh link.Handler) (link.Provider, error) {
		p, err := quic.New(lh, kp, store, quicOptions())
		if err != nil {
			return nil, err
		}
		if err := p.Listen(cfg.Transport.Listen); err != nil {
			_ = p.Close()
			return nil, err
		}
		return p, nil
	})
	if err != nil {
		return err
	}
	info, err := store.Lookup(kp.Address())
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "peripheral %s@%s\n", kp.Address(), info.Endpoint())

	rep, err := stress.NewPeripheral(h, cfg.ScenarioConfig(), log).Run(ctx)
	fmt.Fprintf(cmd.OutOrStdout(), "received=%d disconnected=%d elapsed=%s\n", rep.Received, rep.Disconnected, rep.Elapsed)
	return err
}

func runCentral(ctx context.Context, cmd *cobra.Command) error {
	kp, err := deviceKey()
	if err != nil {
		return err
	}
	store := memory.New()
	var peers []identity.Address
	for _, ep := range cfg.Transport.Peers {
		info, err := discovery.ParseEndpoint(ep)
		if err != nil {
			return fmt.Errorf("peer %q: %w", ep, err)
		}
		if err := store.Announce(info); err != nil {
			return err
		}
		peers = append(peers, info.Address)
	}
	if len(peers) < cfg.Scenario.Peers {
		log.Warn("fewer endpoints than peers; using the endpoints", zap.Int("endpoints", len(peers)), zap.Int("peers", cfg.Scenario.Peers))
	}
	if len(peers) > cfg.Scenario.Peers {
		peers = peers[:cfg.Scenario.Peers]
	}

	h, err := coc.NewHost(cfg.HostConfig(log), func(lh link.Handler) (link.Provider, error) {
		return quic.New(lh, kp, store, quicOptions())
	})
	if err != nil {
		return err
	}
	rep, err := stress.NewCentral(h, peers, cfg.ScenarioConfig(), log).Run(ctx)
	fmt.Fprintf(cmd.OutOrStdout(), "links=%d disconnected=%d remaining=%d peak_segments=%d elapsed=%s\n",
		rep.Links, rep.Disconnected, rep.RemainingTotal(), rep.PeakSegments, rep.Elapsed)
	return err
}
