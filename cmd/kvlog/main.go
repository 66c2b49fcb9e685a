package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/kjk/kvlog/appendlog"
	"github.com/kjk/kvlog/config"
	"github.com/kjk/kvlog/log"
	"github.com/kjk/kvlog/store"
	"github.com/spf13/cobra"
)

var (
	flagConfig   string
	flagDataPath string
	flagAddr     string
	flagVerbose  bool
)

func newRootCmd() *cobra.Command {
	c := &cobra.Command{
		Use:           "kvlog",
		Short:         "key-value store persisted in an append-only log",
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Usage()
		},
	}
	pf := c.PersistentFlags()
	pf.StringVarP(&flagConfig, "config", "c", "", "path of yaml config file")
	pf.StringVar(&flagDataPath, "data", "", "path of the log file, overrides data_path from config")
	pf.StringVar(&flagAddr, "addr", "", "address of the server, overrides addr from config")
	pf.BoolVarP(&flagVerbose, "verbose", "v", false, "verbose logging")

	c.AddCommand(serveCmd)
	c.AddCommand(getCmd)
	c.AddCommand(setCmd)
	c.AddCommand(statsCmd)
	c.AddCommand(compactCmd)
	c.AddCommand(dumpCmd)
	c.AddCommand(archiveCmd)
	c.AddCommand(restoreCmd)
	return c
}

// loadConfig reads config file (if given), .env file and environment
// and applies command-line flags
func loadConfig() (*config.Config, error) {
	c, err := config.Load(flagConfig)
	if err != nil {
		return nil, err
	}
	dotEnv, err := config.LoadEnvFile(".env")
	if err != nil {
		return nil, err
	}
	c.ApplyEnv(dotEnv)
	if flagDataPath != "" {
		c.DataPath = flagDataPath
	}
	if flagAddr != "" {
		c.Addr = flagAddr
	}
	if flagVerbose {
		c.Verbose = true
	}
	log.Verbose = c.Verbose
	return c, nil
}

func storeOptions(c *config.Config) *store.Options {
	return &store.Options{
		NoSync:              c.NoSync,
		TruncateCorruptTail: c.TruncateCorruptTail,
		SwapMode:            c.SwapMode,
	}
}

// serverURL converts listen address like ":8000" to url we can connect to
func serverURL(addr string) string {
	if strings.HasPrefix(addr, "http://") || strings.HasPrefix(addr, "https://") {
		return addr
	}
	if strings.HasPrefix(addr, ":") {
		addr = "localhost" + addr
	}
	return "http://" + addr
}

func fileExists(path string) bool {
	st, err := os.Stat(path)
	return err == nil && st.Mode().IsRegular()
}

// compactCmd compacts a log that is not used by a running server
var compactCmd = &cobra.Command{
	Use:   "compact",
	Short: "compact the log so that it only has the latest value of each key",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := loadConfig()
		if err != nil {
			return err
		}
		cmd.SilenceUsage = true
		if !fileExists(c.DataPath) {
			return fmt.Errorf("'%s' doesn't exist", c.DataPath)
		}
		e, err := store.Open(c.DataPath, storeOptions(c))
		if err != nil {
			return err
		}
		stats, err := e.Shutdown()
		if err != nil {
			return err
		}
		log.Logf("compacted '%s': %d records, %d => %d bytes in %s\n", stats.Path, stats.Records, stats.BytesBefore, stats.BytesAfter, stats.Duration)
		return nil
	},
}

var flagDumpLatest bool

// dumpCmd prints records of the log as key<tab>value lines
var dumpCmd = &cobra.Command{
	Use:   "dump",
	Short: "print records in the log",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := loadConfig()
		if err != nil {
			return err
		}
		cmd.SilenceUsage = true
		out := cmd.OutOrStdout()
		records, errFn := appendlog.ReplayFile(c.DataPath)
		if !flagDumpLatest {
			for e := range records {
				fmt.Fprintf(out, "%s\t%s\n", e.Key, e.Value)
			}
			return errFn()
		}
		index := store.NewIndex()
		for e := range records {
			index.Set(e.Key, e.Value)
		}
		if err = errFn(); err != nil {
			return err
		}
		for k, v := range index.All() {
			fmt.Fprintf(out, "%s\t%s\n", k, v)
		}
		return nil
	},
}

func init() {
	dumpCmd.Flags().BoolVar(&flagDumpLatest, "latest", false, "only print the latest value of each key")
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %s\n", err)
		os.Exit(1)
	}
}
