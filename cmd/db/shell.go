package db

import (
	"bufio"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"

	"github.com/ValentinKolb/dbRPC/rpc/client"
	"github.com/ValentinKolb/dbRPC/rpc/common"
	"github.com/spf13/cobra"
)

var shellCmd = &cobra.Command{
	Use:   "shell",
	Short: "Interactive session that keeps databases and transactions open between commands",
	Long: `Interactive session on a single connection. Handles opened in the shell stay
valid until they are closed or the shell exits, type 'help' for the commands.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return newShell(rpcEnv, rpcDB, cmd.OutOrStdout()).run(cmd.InOrStdin())
	},
}

const shellHelp = `commands:
  open <name> [create]   open a database and make it current
  use <name>             make an open database current
  close                  close the current database
  begin                  begin a transaction (nested in the current one)
  commit | abort         end the innermost transaction
  get <key>              read a key
  put <key> <value>      write a key
  del <key>              delete a key
  scan [from] [limit]    list records in key order
  status                 show open databases and transactions
  exit                   leave the shell (the server releases all handles)`

// shell executes line commands against one environment
type shell struct {
	env  *client.Env
	out  io.Writer
	dbs  map[string]*client.Database
	cur  *client.Database
	txns []*client.Txn // innermost last
}

func newShell(env *client.Env, db *client.Database, out io.Writer) *shell {
	s := &shell{
		env: env,
		out: out,
		dbs: make(map[string]*client.Database),
	}
	if db != nil {
		s.dbs[db.Name()] = db
		s.cur = db
	}
	return s
}

func (s *shell) run(in io.Reader) error {
	scanner := bufio.NewScanner(in)
	s.prompt()
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) > 0 {
			if fields[0] == "exit" || fields[0] == "quit" {
				return nil
			}
			if err := s.exec(fields[0], fields[1:]); err != nil {
				fmt.Fprintf(s.out, "error: %v\n", err)
			}
		}
		s.prompt()
	}
	return scanner.Err()
}

func (s *shell) prompt() {
	name := "-"
	if s.cur != nil {
		name = s.cur.Name()
	}
	if len(s.txns) > 0 {
		fmt.Fprintf(s.out, "%s (txn %d)> ", name, len(s.txns))
	} else {
		fmt.Fprintf(s.out, "%s> ", name)
	}
}

// exec runs a single command
func (s *shell) exec(command string, args []string) error {
	switch command {
	case "help":
		fmt.Fprintln(s.out, shellHelp)
		return nil
	case "open":
		return s.open(args)
	case "use":
		if err := expectArgs(args, 1); err != nil {
			return err
		}
		db, ok := s.dbs[args[0]]
		if !ok {
			return fmt.Errorf("database %s is not open", args[0])
		}
		s.cur = db
		return nil
	case "close":
		return s.closeCurrent()
	case "begin":
		txn, err := s.env.Begin(s.txn())
		if err != nil {
			return err
		}
		s.txns = append(s.txns, txn)
		return nil
	case "commit", "abort":
		return s.endTxn(command == "commit")
	case "status":
		s.status()
		return nil
	}

	// commands on the current database
	if s.cur == nil {
		return fmt.Errorf("no database open")
	}

	switch command {
	case "get":
		if err := expectArgs(args, 1); err != nil {
			return err
		}
		value, err := s.cur.Get(s.txn(), []byte(args[0]))
		if err != nil {
			return err
		}
		fmt.Fprintf(s.out, "%s\n", value)
	case "put":
		if err := expectArgs(args, 2); err != nil {
			return err
		}
		return s.cur.Put(s.txn(), []byte(args[0]), []byte(args[1]), 0)
	case "del":
		if err := expectArgs(args, 1); err != nil {
			return err
		}
		return s.cur.Delete(s.txn(), []byte(args[0]))
	case "scan":
		var from string
		var limit int
		if len(args) > 0 {
			from = args[0]
		}
		if len(args) > 1 {
			var err error
			if limit, err = strconv.Atoi(args[1]); err != nil {
				return fmt.Errorf("limit must be a number: %w", err)
			}
		}
		n, err := scan(s.cur, s.txn(), from, limit, false, func(k, v []byte) {
			fmt.Fprintf(s.out, "%s=%s\n", k, v)
		})
		if err != nil {
			return err
		}
		fmt.Fprintf(s.out, "(%d records)\n", n)
	default:
		return fmt.Errorf("unknown command %q, type 'help'", command)
	}
	return nil
}

func (s *shell) open(args []string) error {
	if len(args) < 1 || len(args) > 2 {
		return fmt.Errorf("usage: open <name> [create]")
	}
	if db, ok := s.dbs[args[0]]; ok {
		s.cur = db
		return nil
	}

	var flags uint32
	if len(args) == 2 && args[1] == "create" {
		flags |= common.FlagOpenCreate
	}
	db, err := s.env.Open(args[0], flags)
	if err != nil {
		return err
	}
	s.dbs[db.Name()] = db
	s.cur = db
	return nil
}

func (s *shell) closeCurrent() error {
	if s.cur == nil {
		return fmt.Errorf("no database open")
	}
	if err := s.cur.Close(); err != nil {
		if client.IsBusy(err) {
			return fmt.Errorf("%w (end the open transactions first)", err)
		}
		return err
	}
	delete(s.dbs, s.cur.Name())
	s.cur = nil
	return nil
}

// endTxn commits or aborts the innermost transaction. The handle is gone
// afterwards even if the commit failed.
func (s *shell) endTxn(commit bool) error {
	txn := s.txn()
	if txn == nil {
		return fmt.Errorf("no transaction open")
	}
	s.txns = s.txns[:len(s.txns)-1]

	if commit {
		return txn.Commit()
	}
	return txn.Abort()
}

func (s *shell) status() {
	names := make([]string, 0, len(s.dbs))
	for name := range s.dbs {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		marker := " "
		if s.dbs[name] == s.cur {
			marker = "*"
		}
		fmt.Fprintf(s.out, "%s db %s (handle %d)\n", marker, name, s.dbs[name].Handle())
	}
	for i, txn := range s.txns {
		fmt.Fprintf(s.out, "  txn level %d (handle %d)\n", i+1, txn.Handle())
	}
}

// txn returns the innermost transaction or nil
func (s *shell) txn() *client.Txn {
	if len(s.txns) == 0 {
		return nil
	}
	return s.txns[len(s.txns)-1]
}

func expectArgs(args []string, n int) error {
	if len(args) != n {
		return fmt.Errorf("expected %d argument(s), got %d", n, len(args))
	}
	return nil
}
