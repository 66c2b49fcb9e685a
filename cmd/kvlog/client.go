package main

import (
	"encoding/json"
	"fmt"

	"github.com/kjk/kvlog/client"
	"github.com/spf13/cobra"
	"github.com/tidwall/pretty"
)

var getCmd = &cobra.Command{
	Use:   "get <key>",
	Short: "get value of a key from the server",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := loadConfig()
		if err != nil {
			return err
		}
		cmd.SilenceUsage = true
		v, ok, err := client.New(serverURL(c.Addr)).Get(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("key '%s' not found", args[0])
		}
		fmt.Fprintln(cmd.OutOrStdout(), v)
		return nil
	},
}

var setCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "set value of a key on the server",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := loadConfig()
		if err != nil {
			return err
		}
		cmd.SilenceUsage = true
		return client.New(serverURL(c.Addr)).Set(cmd.Context(), args[0], args[1])
	},
}

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "print stats of the server",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := loadConfig()
		if err != nil {
			return err
		}
		cmd.SilenceUsage = true
		st, err := client.New(serverURL(c.Addr)).Stats(cmd.Context())
		if err != nil {
			return err
		}
		d, err := json.Marshal(st)
		if err != nil {
			return err
		}
		_, err = cmd.OutOrStdout().Write(pretty.Pretty(d))
		return err
	},
}
