package db

import (
	"fmt"

	"github.com/ValentinKolb/dbRPC/rpc/client"
	"github.com/ValentinKolb/dbRPC/rpc/common"
	"github.com/spf13/cobra"
)

var (
	getCmd = &cobra.Command{
		Use:   "get [key]",
		Short: "Reads the value for a key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			key := args[0]
			value, err := rpcDB.Get(nil, []byte(key))
			if client.IsNotFound(err) {
				fmt.Printf("key=%s, found=false\n", key)
				return nil
			} else if err != nil {
				return err
			}
			fmt.Printf("key=%s, found=true, value=%s\n", key, value)
			return nil
		},
	}
	putCmd = &cobra.Command{
		Use:   "put [key] [value]",
		Short: "Sets the value for a key",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			var flags uint32
			if noOverwrite, _ := cmd.Flags().GetBool("no-overwrite"); noOverwrite {
				flags |= common.FlagPutNoOverwrite
			}
			if err := rpcDB.Put(nil, []byte(args[0]), []byte(args[1]), flags); err != nil {
				return err
			}
			fmt.Println("put successfully")
			return nil
		},
	}
	delCmd = &cobra.Command{
		Use:   "del [key]",
		Short: "Deletes a key value pair",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := rpcDB.Delete(nil, []byte(args[0])); err != nil {
				return err
			}
			fmt.Println("delete successfully")
			return nil
		},
	}
	scanCmd = &cobra.Command{
		Use:   "scan",
		Short: "Lists the records of the database in key order",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			from, _ := cmd.Flags().GetString("from")
			limit, _ := cmd.Flags().GetInt("limit")
			reverse, _ := cmd.Flags().GetBool("reverse")

			n, err := scan(rpcDB, nil, from, limit, reverse, func(k, v []byte) {
				fmt.Printf("%s=%s\n", k, v)
			})
			if err != nil {
				return err
			}
			fmt.Printf("(%d records)\n", n)
			return nil
		},
	}
)

func init() {
	putCmd.Flags().Bool("no-overwrite", false, "Fail if the key already exists")
	scanCmd.Flags().String("from", "", "Start at the first key >= from")
	scanCmd.Flags().Int("limit", 0, "Max number of records to print (0 = all)")
	scanCmd.Flags().Bool("reverse", false, "Iterate in descending key order")
}

// scan walks db with a cursor (inside txn if it is not nil) and calls fn for
// every record. It returns the number of visited records.
func scan(db *client.Database, txn *client.Txn, from string, limit int, reverse bool, fn func(k, v []byte)) (int, error) {
	cursor, err := db.Cursor(txn)
	if err != nil {
		return 0, err
	}
	defer cursor.Close()

	var k, v []byte
	switch {
	case from != "":
		k, v, err = cursor.Seek([]byte(from))
	case reverse:
		k, v, err = cursor.Last()
	default:
		k, v, err = cursor.First()
	}

	n := 0
	for err == nil && (limit <= 0 || n < limit) {
		fn(k, v)
		n++
		if reverse {
			k, v, err = cursor.Prev()
		} else {
			k, v, err = cursor.Next()
		}
	}

	if err != nil && !client.IsNotFound(err) {
		return n, err
	}
	return n, nil
}
