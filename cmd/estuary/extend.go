package main

import (
	"fmt"

	"github.com/PeterRK/estuary"
	"github.com/spf13/cobra"
)

var extendPercent int

var extendCmd = &cobra.Command{
	Use:   "extend <path>",
	Short: "grow a variable dictionary's data slab in place",
	Args:  cobra.ExactArgs(1),
	RunE:  runExtend,
}

func init() {
	extendCmd.Flags().IntVar(&extendPercent, "percent", 50, "percent to grow the data slab by, 1-1000")
}

func runExtend(cmd *cobra.Command, args []string) error {
	cfg, err := estuary.Extend(args[0], extendPercent)
	if err != nil {
		return err
	}
	fmt.Printf("extended: item-limit=%d max-key-len=%d max-val-len=%d avg-item-size=%d\n",
		cfg.ItemLimit, cfg.MaxKeyLen, cfg.MaxValLen, cfg.AvgItemSize)
	return nil
}

var dumpCmd = &cobra.Command{
	Use:   "dump <path> <dest>",
	Short: "write a dictionary's current bytes to a fresh file",
	Args:  cobra.ExactArgs(2),
	RunE:  runDump,
}

var dumpFixed bool

func init() {
	dumpCmd.Flags().BoolVar(&dumpFixed, "fixed", false, "operate on a fixed-length (lucky) dictionary")
}

func runDump(cmd *cobra.Command, args []string) error {
	policy, err := parsePolicy(policyFlag)
	if err != nil {
		return err
	}
	if dumpFixed {
		lk, err := estuary.LoadLucky(args[0], policy)
		if err != nil {
			return err
		}
		defer lk.Close()
		return lk.Dump(args[1])
	}
	es, err := estuary.Load(args[0], policy)
	if err != nil {
		return err
	}
	defer es.Close()
	return es.Dump(args[1])
}
