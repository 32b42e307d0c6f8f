package main

import (
	"github.com/spf13/cobra"
)

// scenarioFlags override the scenario and host sections of the config when
// set on the command line.
type scenarioFlags struct {
	peers          int
	messages       int
	sduLen         int
	segmentBuffers int
	credits        int
	mps            int
	security       int
}

func (f *scenarioFlags) register(cmd *cobra.Command) {
	cmd.Flags().IntVar(&f.peers, "peers", 6, "number of peripherals")
	cmd.Flags().IntVar(&f.messages, "messages", 20, "SDUs sent per channel")
	cmd.Flags().IntVar(&f.sduLen, "sdu-len", 1230, "length of every SDU")
	cmd.Flags().IntVar(&f.segmentBuffers, "segment-buffers", 10, "size of the shared segment pool")
	cmd.Flags().IntVar(&f.credits, "credits", 10, "initial credits granted per channel")
	cmd.Flags().IntVar(&f.mps, "mps", 65, "maximum segment payload")
	cmd.Flags().IntVar(&f.security, "security", 1, "security level required by the peripheral (1 or 2)")
}

// apply copies the flags the user set into cfg and revalidates it.
func (f *scenarioFlags) apply(cmd *cobra.Command) error {
	set := cmd.Flags().Changed
	if set("peers") {
		cfg.Scenario.Peers = f.peers
	}
	if set("messages") {
		cfg.Scenario.Messages = f.messages
	}
	if set("sdu-len") {
		cfg.Scenario.MessageLen = f.sduLen
	}
	if set("segment-buffers") {
		cfg.Host.SegmentBuffers = f.segmentBuffers
	}
	if set("credits") {
		cfg.Host.InitialCredits = f.credits
	}
	if set("mps") {
		cfg.Host.MPS = f.mps
	}
	if set("security") {
		cfg.Scenario.Security = f.security
	}
	return cfg.Validate()
}
