package main

import (
	"fmt"

	"github.com/PeterRK/estuary"
	"github.com/spf13/cobra"
)

var kvFixed bool

func addKVFlags(c *cobra.Command) {
	c.Flags().BoolVar(&kvFixed, "fixed", false, "operate on a fixed-length (lucky) dictionary")
}

var fetchCmd = &cobra.Command{
	Use:   "fetch <path> <key>",
	Short: "look up a key and print its value",
	Args:  cobra.ExactArgs(2),
	RunE:  runFetch,
}

var updateCmd = &cobra.Command{
	Use:   "update <path> <key> <value>",
	Short: "insert or overwrite a key's value",
	Args:  cobra.ExactArgs(3),
	RunE:  runUpdate,
}

var eraseCmd = &cobra.Command{
	Use:   "erase <path> <key>",
	Short: "remove a key if present",
	Args:  cobra.ExactArgs(2),
	RunE:  runErase,
}

func init() {
	addKVFlags(fetchCmd)
	addKVFlags(updateCmd)
	addKVFlags(eraseCmd)
}

func runFetch(cmd *cobra.Command, args []string) error {
	policy, err := parsePolicy(policyFlag)
	if err != nil {
		return err
	}
	path, key := args[0], []byte(args[1])

	if kvFixed {
		lk, err := estuary.LoadLucky(path, policy)
		if err != nil {
			return err
		}
		defer lk.Close()
		val, ok := lk.Fetch(key)
		if !ok {
			return fmt.Errorf("key not found")
		}
		fmt.Println(string(val))
		return nil
	}

	es, err := estuary.Load(path, policy)
	if err != nil {
		return err
	}
	defer es.Close()
	val, ok := es.Fetch(key)
	if !ok {
		return fmt.Errorf("key not found")
	}
	fmt.Println(string(val))
	return nil
}

func runUpdate(cmd *cobra.Command, args []string) error {
	policy, err := parsePolicy(policyFlag)
	if err != nil {
		return err
	}
	path, key, val := args[0], []byte(args[1]), []byte(args[2])

	if kvFixed {
		lk, err := estuary.LoadLucky(path, policy)
		if err != nil {
			return err
		}
		defer lk.Close()
		if !lk.Update(key, val) {
			return fmt.Errorf("update failed (capacity exhausted or bad key/value length)")
		}
		return nil
	}

	es, err := estuary.Load(path, policy)
	if err != nil {
		return err
	}
	defer es.Close()
	if !es.Update(key, val) {
		return fmt.Errorf("update failed (out of capacity or bad key/value length)")
	}
	return nil
}

func runErase(cmd *cobra.Command, args []string) error {
	policy, err := parsePolicy(policyFlag)
	if err != nil {
		return err
	}
	path, key := args[0], []byte(args[1])

	if kvFixed {
		lk, err := estuary.LoadLucky(path, policy)
		if err != nil {
			return err
		}
		defer lk.Close()
		if !lk.Erase(key) {
			return fmt.Errorf("key not found")
		}
		return nil
	}

	es, err := estuary.Load(path, policy)
	if err != nil {
		return err
	}
	defer es.Close()
	if !es.Erase(key) {
		return fmt.Errorf("key not found")
	}
	return nil
}
