package main

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/TheusHen/cocstress/coc"
	"github.com/TheusHen/cocstress/coc/identity"
	"github.com/TheusHen/cocstress/coc/link"
	"github.com/TheusHen/cocstress/coc/link/mem"
	"github.com/TheusHen/cocstress/coc/stress"
)

var (
	simFlags  scenarioFlags
	airtime   time.Duration
	dropLink  int
	dropAfter time.Duration
)

var simCmd = &cobra.Command{
	Use:   "sim",
	Short: "Run the whole scenario in-process on a simulated radio",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := simFlags.apply(cmd); err != nil {
			return err
		}
		if cmd.Flags().Changed("airtime") {
			cfg.Transport.Airtime = airtime
		}
		return runSim(cmd.Context(), cmd)
	},
}

func init() {
	simFlags.register(simCmd)
	simCmd.Flags().DurationVar(&airtime, "airtime", 0, "delay every frame on the radio")
	simCmd.Flags().IntVar(&dropLink, "drop-link", -1, "index of a peripheral whose link is severed")
	simCmd.Flags().DurationVar(&dropAfter, "drop-after", 20*time.Millisecond, "how long the dropped link lives")
	rootCmd.AddCommand(simCmd)
}

type roleResult struct {
	name   string
	report stress.Report
	err    error
}

func runSim(ctx context.Context, cmd *cobra.Command) error {
	if ctx == nil {
		ctx = context.Background()
	}
	sc := cfg.ScenarioConfig()
	radio := mem.NewRadio(mem.RadioOptions{Airtime: cfg.Transport.Airtime, Logger: log})
	devOpts := mem.DeviceOptions{Security: sc.Security}

	newHost := func(name string) (*coc.Host, identity.Address, error) {
		addr := identity.KeyPairFromSeed(cfg.Transport.Seed + name).Address()
		hc := cfg.HostConfig(log)
		hc.Name = name
		h, err := coc.NewHost(hc, func(lh link.Handler) (link.Provider, error) {
			return radio.Attach(addr, lh, devOpts)
		})
		return h, addr, err
	}

	var (
		mu      sync.Mutex
		results []roleResult
		g       errgroup.Group
		peers   []identity.Address
	)
	record := func(name string, r stress.Report, err error) {
		mu.Lock()
		results = append(results, roleResult{name: name, report: r, err: err})
		mu.Unlock()
	}

	for i := 0; i < sc.Peers; i++ {
		name := fmt.Sprintf("peripheral-%d", i)
		h, addr, err := newHost(name)
		if err != nil {
			return err
		}
		if i == dropLink {
			h.Observe(coc.LinkFuncs{OnUp: func(l link.Link) {
				time.AfterFunc(dropAfter, func() {
					if err := radio.Sever(l.ID(), link.ReasonConnectionTimeout); err == nil {
						log.Warn("link severed", zap.String("device", name), zap.Uint32("link", uint32(l.ID())))
					}
				})
			}})
		}
		peers = append(peers, addr)
		p := stress.NewPeripheral(h, sc, log.With(zap.String("device", name)))
		g.Go(func() error {
			r, err := p.Run(ctx)
			record(name, r, err)
			return err
		})
	}

	h, _, err := newHost("central")
	if err != nil {
		return err
	}
	c := stress.NewCentral(h, peers, sc, log)
	g.Go(func() error {
		r, err := c.Run(ctx)
		record("central", r, err)
		return err
	})
	werr := g.Wait()

	out := cmd.OutOrStdout()
	var errs []error
	for _, r := range results {
		status := "ok"
		if r.err != nil {
			status = r.err.Error()
			errs = append(errs, fmt.Errorf("%s: %w", r.name, r.err))
		}
		switch r.report.Role {
		case link.RoleCentral:
			fmt.Fprintf(out, "%-14s links=%d disconnected=%d remaining=%d peak_segments=%d elapsed=%s %s\n",
				r.name, r.report.Links, r.report.Disconnected, r.report.RemainingTotal(),
				r.report.PeakSegments, r.report.Elapsed.Round(time.Millisecond), status)
		default:
			fmt.Fprintf(out, "%-14s received=%d disconnected=%d %s\n",
				r.name, r.report.Received, r.report.Disconnected, status)
		}
	}
	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return werr
}
