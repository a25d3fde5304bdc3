package main

import (
	"fmt"

	"github.com/PeterRK/estuary"
	"github.com/spf13/cobra"
)

var (
	createFixed       bool
	createConfigFile  string
	createSourceFile  string
	createItemLimit   uint64
	createMaxKeyLen   uint32
	createMaxValLen   uint32
	createAvgItemSize uint32
	createKeyLen      uint8
	createValLen      uint32
)

var createCmd = &cobra.Command{
	Use:   "create <path>",
	Short: "build a fresh dictionary file",
	Args:  cobra.ExactArgs(1),
	RunE:  runCreate,
}

func init() {
	createCmd.Flags().BoolVar(&createFixed, "fixed", false, "build a fixed-length (lucky) dictionary instead of variable")
	createCmd.Flags().StringVar(&createConfigFile, "config", "", "HuJSON config file (variable engine only; overrides the other size flags)")
	createCmd.Flags().StringVar(&createSourceFile, "source", "", "tab-separated key/value file to bulk-load")
	createCmd.Flags().Uint64Var(&createItemLimit, "item-limit", 1<<16, "maximum live item count")
	createCmd.Flags().Uint32Var(&createMaxKeyLen, "max-key-len", 64, "maximum key length (variable engine)")
	createCmd.Flags().Uint32Var(&createMaxValLen, "max-val-len", 256, "maximum value length (variable engine)")
	createCmd.Flags().Uint32Var(&createAvgItemSize, "avg-item-size", 96, "expected average key+value size, drives slab sizing (variable engine)")
	createCmd.Flags().Uint8Var(&createKeyLen, "key-len", 8, "fixed key length (fixed engine)")
	createCmd.Flags().Uint32Var(&createValLen, "val-len", 8, "fixed value length (fixed engine)")
}

func runCreate(cmd *cobra.Command, args []string) error {
	path := args[0]

	var src estuary.Source
	if createSourceFile != "" {
		s, err := loadTSV(createSourceFile)
		if err != nil {
			return err
		}
		src = s
	}

	if createFixed {
		cfg := estuary.LuckyConfig{
			ItemLimit: uint32(createItemLimit),
			KeyLen:    createKeyLen,
			ValLen:    createValLen,
		}
		if err := estuary.CreateLucky(path, cfg, src); err != nil {
			return err
		}
		fmt.Printf("created fixed dictionary %s (item-limit=%d key-len=%d val-len=%d)\n",
			path, cfg.ItemLimit, cfg.KeyLen, cfg.ValLen)
		return nil
	}

	var cfg estuary.Config
	if createConfigFile != "" {
		c, err := estuary.LoadConfigFile(createConfigFile)
		if err != nil {
			return err
		}
		cfg = c
	} else {
		cfg = estuary.Config{
			ItemLimit:   createItemLimit,
			MaxKeyLen:   createMaxKeyLen,
			MaxValLen:   createMaxValLen,
			AvgItemSize: createAvgItemSize,
		}
	}
	if err := estuary.Create(path, cfg, src); err != nil {
		return err
	}
	fmt.Printf("created variable dictionary %s (item-limit=%d max-key-len=%d max-val-len=%d)\n",
		path, cfg.ItemLimit, cfg.MaxKeyLen, cfg.MaxValLen)
	return nil
}
