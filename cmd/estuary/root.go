package main

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/PeterRK/estuary"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "estuary",
	Short: "build and inspect estuary dictionary files",
	Long: `estuary builds, inspects, and drives point operations against
embedded, file-backed key-value dictionaries: the variable engine
(open-addressed, variable-length keys and values) and the fixed ("lucky")
engine (chained buckets, fixed-length keys and values).`,
}

var policyFlag string

func init() {
	rootCmd.PersistentFlags().StringVar(&policyFlag, "policy", "monopoly",
		"load policy: shared, monopoly, or copy-data")

	rootCmd.AddCommand(createCmd)
	rootCmd.AddCommand(fetchCmd)
	rootCmd.AddCommand(updateCmd)
	rootCmd.AddCommand(eraseCmd)
	rootCmd.AddCommand(extendCmd)
	rootCmd.AddCommand(dumpCmd)
	rootCmd.AddCommand(benchCmd)
	rootCmd.AddCommand(replCmd)
}

func parsePolicy(s string) (estuary.LoadPolicy, error) {
	switch strings.ToLower(s) {
	case "shared":
		return estuary.Shared, nil
	case "monopoly", "":
		return estuary.Monopoly, nil
	case "copy-data", "copydata":
		return estuary.CopyData, nil
	}
	return 0, fmt.Errorf("unknown policy %q", s)
}

// loadTSV reads a tab-separated key/value file fully into memory, for use
// as the bulk-load Source given to Create and CreateLucky.
func loadTSV(path string) (*estuary.SliceSource, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	src := &estuary.SliceSource{}
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}
		idx := strings.IndexByte(line, '\t')
		if idx < 0 {
			return nil, fmt.Errorf("malformed line, expected key<TAB>value: %q", line)
		}
		src.Keys = append(src.Keys, []byte(line[:idx]))
		src.Vals = append(src.Vals, []byte(line[idx+1:]))
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return src, nil
}

func parseUint(s string, bitSize int) (uint64, error) {
	return strconv.ParseUint(s, 10, bitSize)
}
