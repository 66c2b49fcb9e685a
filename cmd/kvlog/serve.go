package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/kjk/kvlog/config"
	"github.com/kjk/kvlog/log"
	"github.com/kjk/kvlog/metrics"
	"github.com/kjk/kvlog/server"
	"github.com/kjk/kvlog/store"
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:     "serve",
	Short:   "start http server",
	Example: "kvlog serve --config kvlog.yaml",
	Args:    cobra.NoArgs,
	RunE:    runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	c, err := loadConfig()
	if err != nil {
		return err
	}
	cmd.SilenceUsage = true
	log.Init(&log.Config{Dir: c.LogDir})
	defer log.Close()

	opts := storeOptions(c)
	opts.OnFatal = func(err error) {
		log.Errorf("write to the log failed with '%s'\n", err)
		if c.ExitOnFatal {
			log.Logf("exiting because exit_on_fatal is set\n")
			log.Close()
			os.Exit(1)
		}
	}
	timeStart := time.Now()
	e, err := store.Open(c.DataPath, opts)
	if err != nil {
		return err
	}
	startupTime := time.Since(timeStart)
	stats := e.Stats()
	metrics.StartupTime.Set(startupTime.Seconds())
	metrics.ReplayedRecords.Set(float64(stats.Replayed))
	metrics.SetStatsFunc(func() metrics.StoreStats {
		st := e.Stats()
		return metrics.StoreStats{
			Keys:    st.Keys,
			LogSize: st.LogSize,
			Appends: st.Appends,
			Failed:  st.Failed,
		}
	})
	log.Logf("opened '%s' with %d keys (%d records) in %s\n", stats.Path, stats.Keys, stats.Replayed, startupTime)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt /* SIGINT */, syscall.SIGTERM)
	defer stop()
	srv := server.New(e, server.Options{
		Addr:            c.Addr,
		ShutdownTimeout: c.ShutdownTimeout,
	})
	errServe := srv.Run(ctx)
	log.IfErrf(errServe)

	// no requests are in flight so the log doesn't change from now on
	cstats, err := e.Shutdown()
	if err != nil {
		return errors.Join(errServe, err)
	}
	metrics.CompactionTime.Set(cstats.Duration.Seconds())
	log.Logf("compacted '%s': %d records, %d => %d bytes in %s\n", cstats.Path, cstats.Records, cstats.BytesBefore, cstats.BytesAfter, cstats.Duration)

	if c.Archive.Enabled() {
		// new context, the original one is already cancelled
		if err = archiveLog(context.Background(), c, cstats.Path); err != nil {
			return errors.Join(errServe, err)
		}
	}
	return errServe
}

// don't let archiving block shutdown forever
const archiveTimeout = 5 * time.Minute

func archiveLog(ctx context.Context, c *config.Config, path string) error {
	a, err := newArchiver(c)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, archiveTimeout)
	defer cancel()
	res, err := a.Archive(ctx, path)
	if err != nil {
		return err
	}
	if res.Skipped {
		log.Logf("'%s' didn't change since last archive\n", path)
		return nil
	}
	log.Logf("archived '%s' as '%s', %d => %d bytes in %s\n", path, res.Name, res.Size, res.SizeCompressed, res.Duration)
	return nil
}
