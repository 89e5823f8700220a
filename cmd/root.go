package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/ValentinKolb/dbRPC/cmd/db"
	"github.com/ValentinKolb/dbRPC/cmd/serve"
	"github.com/ValentinKolb/dbRPC/cmd/util"
	"github.com/ValentinKolb/dbRPC/rpc/common"
	"github.com/ValentinKolb/dbRPC/rpc/serializer"
	"github.com/spf13/cobra"
)

const (
	Version = "0.3.0"
)

var (
	// RootCmd is the dbrpc command, it only groups the subcommands
	RootCmd = &cobra.Command{
		Use:   "dbrpc",
		Short: "remote access to a transactional key-value store",
		Long: fmt.Sprintf(`dbRPC (v%s)

Serves transactional key-value environments over the network. Clients open
databases, transactions and cursors and refer to them by handles that stay
valid for the lifetime of their connection.`, Version),
		SilenceUsage: true,
	}

	versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Print the version number of dbRPC",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("dbRPC v%s\n", Version)
		},
	}

	statusesCmd = &cobra.Command{
		Use:   "statuses",
		Short: "List the status codes returned by the server",
		Run: func(cmd *cobra.Command, args []string) {
			for s := common.StatusSuccess; s.IsValid(); s++ {
				fmt.Fprintf(cmd.OutOrStdout(), "%d\t%s\n", s, s)
			}
		},
	}
)

func init() {
	RootCmd.AddCommand(serve.ServeCmd)
	RootCmd.AddCommand(db.DBCommands)
	RootCmd.AddCommand(versionCmd)
	RootCmd.AddCommand(statusesCmd)

	// client and server must agree on both
	key := "serializer"
	RootCmd.PersistentFlags().String(key, "binary", util.WrapString(
		fmt.Sprintf("serializer to use (%s)", strings.Join(serializer.Names(), ", "))))
	key = "transport"
	RootCmd.PersistentFlags().String(key, "http", util.WrapString("transport to use (http, tcp, unix, grpc)"))
}

// Execute runs the root command, it is called once by main.main()
func Execute() {
	if err := RootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
