package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/PeterRK/estuary"
	"github.com/peterh/liner"
	"github.com/spf13/cobra"
)

var replFixed bool

var replCmd = &cobra.Command{
	Use:   "repl <path>",
	Short: "interactive shell for fetch/update/erase against a dictionary",
	Args:  cobra.ExactArgs(1),
	RunE:  runRepl,
}

func init() {
	replCmd.Flags().BoolVar(&replFixed, "fixed", false, "operate on a fixed-length (lucky) dictionary")
}

func replHistoryFile() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".estuary_history")
}

func runRepl(cmd *cobra.Command, args []string) error {
	policy, err := parsePolicy(policyFlag)
	if err != nil {
		return err
	}

	var es *estuary.Estuary
	var lk *estuary.Lucky
	if replFixed {
		lk, err = estuary.LoadLucky(args[0], policy)
		if err != nil {
			return err
		}
		defer lk.Close()
	} else {
		es, err = estuary.Load(args[0], policy)
		if err != nil {
			return err
		}
		defer es.Close()
	}

	ln := liner.NewLiner()
	defer ln.Close()
	ln.SetCtrlCAborts(true)
	if hf := replHistoryFile(); hf != "" {
		if f, err := os.Open(hf); err == nil {
			ln.ReadHistory(f)
			f.Close()
		}
	}

	fmt.Printf("estuary repl (%s) — fetch/update/erase/quit\n", args[0])
	for {
		line, err := ln.Prompt("estuary> ")
		if err != nil {
			if err == liner.ErrPromptAborted || err == io.EOF {
				fmt.Println()
				break
			}
			return err
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		ln.AppendHistory(line)
		fields := strings.Fields(line)

		switch strings.ToLower(fields[0]) {
		case "quit", "exit":
			goto done
		case "fetch":
			if len(fields) != 2 {
				fmt.Println("usage: fetch <key>")
				continue
			}
			var val []byte
			var ok bool
			if replFixed {
				val, ok = lk.Fetch([]byte(fields[1]))
			} else {
				val, ok = es.Fetch([]byte(fields[1]))
			}
			if !ok {
				fmt.Println("(not found)")
			} else {
				fmt.Println(string(val))
			}
		case "update":
			if len(fields) != 3 {
				fmt.Println("usage: update <key> <value>")
				continue
			}
			var okUpdate bool
			if replFixed {
				okUpdate = lk.Update([]byte(fields[1]), []byte(fields[2]))
			} else {
				okUpdate = es.Update([]byte(fields[1]), []byte(fields[2]))
			}
			if !okUpdate {
				fmt.Println("update failed")
			}
		case "erase":
			if len(fields) != 2 {
				fmt.Println("usage: erase <key>")
				continue
			}
			var okErase bool
			if replFixed {
				okErase = lk.Erase([]byte(fields[1]))
			} else {
				okErase = es.Erase([]byte(fields[1]))
			}
			if !okErase {
				fmt.Println("(not found)")
			}
		default:
			fmt.Printf("unknown command %q\n", fields[0])
		}
	}
done:
	if hf := replHistoryFile(); hf != "" {
		if f, err := os.Create(hf); err == nil {
			ln.WriteHistory(f)
			f.Close()
		}
	}
	return nil
}
