package main

import (
	"errors"
	"fmt"

	"github.com/kjk/kvlog/archive"
	"github.com/kjk/kvlog/config"
	"github.com/kjk/kvlog/log"
	"github.com/spf13/cobra"
)

func newTarget(c *config.Config, name string) (archive.Target, error) {
	switch name {
	case "dir":
		if c.Archive.Dir == "" {
			return nil, errors.New("archive.dir is not set in config")
		}
		return &archive.DirTarget{Dir: c.Archive.Dir}, nil
	case "s3":
		if c.Archive.S3 == nil {
			return nil, errors.New("archive.s3 is not set in config")
		}
		return archive.NewMinioTarget(c.Archive.S3)
	case "sftp":
		if c.Archive.SFTP == nil {
			return nil, errors.New("archive.sftp is not set in config")
		}
		return archive.NewSFTPTarget(c.Archive.SFTP)
	}
	return nil, fmt.Errorf("unknown archive target '%s', must be dir, s3 or sftp", name)
}

func newArchiver(c *config.Config) (*archive.Archiver, error) {
	codec, err := archive.ParseCodec(c.Archive.Codec)
	if err != nil {
		return nil, err
	}
	a := &archive.Archiver{
		Codec: codec,
	}
	var names []string
	if c.Archive.Dir != "" {
		names = append(names, "dir")
	}
	if c.Archive.S3 != nil {
		names = append(names, "s3")
	}
	if c.Archive.SFTP != nil {
		names = append(names, "sftp")
	}
	for _, name := range names {
		t, err := newTarget(c, name)
		if err != nil {
			return nil, err
		}
		a.Targets = append(a.Targets, t)
	}
	if len(a.Targets) == 0 {
		return nil, errors.New("no archive targets in config")
	}
	return a, nil
}

var archiveCmd = &cobra.Command{
	Use:   "archive",
	Short: "compress the log and upload it to archive targets from config",
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
		return archiveLog(cmd.Context(), c, c.DataPath)
	},
}

var (
	flagRestoreFrom  string
	flagRestoreForce bool
)

var restoreCmd = &cobra.Command{
	Use:     "restore [archive-name]",
	Short:   "restore the log from an archive, the latest one if name is not given",
	Example: "kvlog restore --from s3 kv.db-20261017T101530Z-5b6e0b0c1d2e3f40.zst",
	Args:    cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := loadConfig()
		if err != nil {
			return err
		}
		cmd.SilenceUsage = true
		t, err := newTarget(c, flagRestoreFrom)
		if err != nil {
			return err
		}
		ctx := cmd.Context()
		if len(args) == 1 {
			err = archive.Restore(ctx, t, args[0], c.DataPath, flagRestoreForce)
			if err == nil {
				log.Logf("restored '%s' from '%s'\n", c.DataPath, args[0])
			}
			return err
		}
		name, err := archive.RestoreLatest(ctx, t, c.DataPath, flagRestoreForce)
		if err == nil {
			log.Logf("restored '%s' from '%s'\n", c.DataPath, name)
		}
		return err
	},
}

func init() {
	restoreCmd.Flags().StringVar(&flagRestoreFrom, "from", "dir", "where to restore from: dir, s3 or sftp")
	restoreCmd.Flags().BoolVar(&flagRestoreForce, "force", false, "overwrite existing log")
}
