package db

import (
	"github.com/ValentinKolb/dbRPC/cmd/util"
	"github.com/ValentinKolb/dbRPC/rpc/client"
	"github.com/ValentinKolb/dbRPC/rpc/common"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	rpcEnv *client.Env
	rpcDB  *client.Database

	// DBCommands represents the database command group
	DBCommands = &cobra.Command{
		Use:                "db",
		Short:              "Perform database operations",
		PersistentPreRunE:  setupDBClient,
		PersistentPostRunE: closeDBClient,
	}
)

func init() {
	// Initialize viper
	cobra.OnInitialize(util.InitConfig)

	// Add common RPC flags to the db command
	util.SetupRPCClientFlags(DBCommands)

	DBCommands.PersistentFlags().Int("shard", 100, util.WrapString("ID of the shard to connect to"))
	DBCommands.PersistentFlags().String("db", "default", util.WrapString("Name of the database to open"))
	DBCommands.PersistentFlags().Bool("create", true, util.WrapString("Create the database if it does not exist"))

	// Add subcommands
	DBCommands.AddCommand(getCmd)
	DBCommands.AddCommand(putCmd)
	DBCommands.AddCommand(delCmd)
	DBCommands.AddCommand(scanCmd)
	DBCommands.AddCommand(shellCmd)
	DBCommands.AddCommand(perfTestCmd)
}

// setupDBClient connects to the server and opens the database of the --db flag
func setupDBClient(cmd *cobra.Command, _ []string) error {
	// Bind command flags to viper
	if err := util.BindCommandFlags(cmd); err != nil {
		return err
	}

	// Get client configuration components
	config := util.GetClientConfig()
	shardId := util.GetShardID()

	// Get serializer and transport
	s, err := util.GetSerializer()
	if err != nil {
		return err
	}

	t, err := util.GetTransport()
	if err != nil {
		return err
	}

	// Create the environment client
	rpcEnv, err = client.NewRPCEnv(
		shardId,
		*config,
		t,
		s,
	)
	if err != nil {
		return err
	}

	var flags uint32
	if viper.GetBool("create") {
		flags |= common.FlagOpenCreate
	}
	rpcDB, err = rpcEnv.Open(viper.GetString("db"), flags)
	if err != nil {
		_ = rpcEnv.Close()
		return err
	}
	return nil
}

// closeDBClient closes the connection, the server releases every handle of it
func closeDBClient(_ *cobra.Command, _ []string) error {
	if rpcEnv == nil {
		return nil
	}
	return rpcEnv.Close()
}
