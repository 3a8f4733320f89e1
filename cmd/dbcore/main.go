// Command dbcore is an operator console over the storage engine core:
// disk manager, buffer pool, WAL, lock manager, transaction manager,
// and recovery. It is not a SQL shell (parsing, planning, and
// execution are out of scope for this core, per spec) — it exposes
// the core's primitive operations directly, one command per line, in
// the same readline-driven REPL style as cmd/client's SQL console.
package main

import (
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/chzyer/readline"

	"github.com/tuannm99/novasql/internal/buffer"
	"github.com/tuannm99/novasql/internal/lock"
	"github.com/tuannm99/novasql/internal/recovery"
	"github.com/tuannm99/novasql/internal/stats"
	"github.com/tuannm99/novasql/internal/storage/diskmgr"
	"github.com/tuannm99/novasql/internal/storage/slotpage"
	"github.com/tuannm99/novasql/internal/txn"
	"github.com/tuannm99/novasql/internal/walog"
)

type console struct {
	disk *diskmgr.Manager
	pool *buffer.Pool
	log  *walog.Manager
	lock *lock.Manager
	txns *txn.Manager
	rec  *recovery.Manager
	stat *stats.Stats

	current *txn.Transaction
}

func main() {
	var (
		dataFile      = flag.String("data", "novasql.db", "data file path")
		walFile       = flag.String("wal", "novasql.wal", "WAL file path")
		poolSize      = flag.Int("pool-size", 100, "buffer pool size, in frames")
		lockTimeout   = flag.Duration("lock-timeout", lock.DefaultTimeout, "per-request lock wait timeout")
		enableLogging = flag.Bool("enable-logging", true, "append WAL records (disable only for throwaway sessions)")
		debug         = flag.Bool("debug", false, "enable debug logging")
		autoRecover   = flag.Bool("recover", true, "run crash recovery against the WAL at startup")
	)
	flag.Parse()

	if *debug {
		slog.SetLogLoggerLevel(slog.LevelDebug)
	}

	c, err := newConsole(*dataFile, *walFile, *poolSize, *lockTimeout, *enableLogging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "dbcore: %v\n", err)
		os.Exit(1)
	}
	defer c.close()

	if *autoRecover {
		if err := c.rec.Recover(); err != nil {
			fmt.Fprintf(os.Stderr, "dbcore: recovery failed: %v\n", err)
			os.Exit(1)
		}
	}

	c.repl()
}

func newConsole(dataFile, walFile string, poolSize int, lockTimeout time.Duration, enableLogging bool) (*console, error) {
	stat := stats.New()

	disk, err := diskmgr.Open(dataFile)
	if err != nil {
		return nil, fmt.Errorf("open data file: %w", err)
	}

	logMgr, err := walog.Open(walFile, enableLogging, stat)
	if err != nil {
		return nil, fmt.Errorf("open wal file: %w", err)
	}

	pool := buffer.NewPool(poolSize, disk, logMgr, stat)
	lockMgr := lock.NewManager(lockTimeout, stat)
	txnMgr := txn.NewManager(logMgr, lockMgr, stat)
	recMgr := recovery.NewManager(pool, logMgr)

	return &console{
		disk: disk,
		pool: pool,
		log:  logMgr,
		lock: lockMgr,
		txns: txnMgr,
		rec:  recMgr,
		stat: stat,
	}, nil
}

func (c *console) close() {
	if c.current != nil {
		_ = c.txns.Abort(c.current)
	}
	_ = c.pool.FlushAllPages()
	_ = c.log.Close()
	_ = c.disk.Close()
}

func (c *console) repl() {
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "dbcore> ",
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "dbcore: readline: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = rl.Close() }()

	fmt.Println("novasql storage core console — type \\help for commands")
	for {
		line, err := rl.Readline()
		if err == readline.ErrInterrupt {
			fmt.Println("^C")
			continue
		}
		if err != nil {
			fmt.Println()
			return
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if line == "\\q" || line == "quit" || line == "exit" {
			return
		}
		c.dispatch(line)
	}
}

func (c *console) dispatch(line string) {
	fields := strings.Fields(line)
	cmd := fields[0]
	args := fields[1:]

	var err error
	switch cmd {
	case "\\help":
		printHelp()
		return
	case "begin":
		err = c.cmdBegin()
	case "commit":
		err = c.cmdCommit()
	case "abort":
		err = c.cmdAbort()
	case "newpage":
		err = c.cmdNewPage()
	case "insert":
		err = c.cmdInsert(args)
	case "get":
		err = c.cmdGet(args)
	case "update":
		err = c.cmdUpdate(args)
	case "delete":
		err = c.cmdDelete(args)
	case "checkpoint":
		err = c.rec.Checkpoint()
	case "recover":
		err = c.rec.Recover()
	case "status":
		c.cmdStatus()
		return
	default:
		fmt.Printf("unknown command: %s (try \\help)\n", cmd)
		return
	}
	if err != nil {
		fmt.Printf("error: %v\n", err)
	} else {
		fmt.Println("OK")
	}
}

func printHelp() {
	fmt.Println(`commands:
  begin                            start a transaction
  commit                           commit the current transaction
  abort                            abort the current transaction (does not undo its writes; see recover)
  newpage                          allocate a fresh page, print its id
  insert <page> <text>             append a tuple, logged as INSERT
  get <page> <slot>                print the tuple at a RID
  update <page> <slot> <text>      overwrite a tuple, logged as UPDATE
  delete <page> <slot>             remove a tuple, logged as DELETE
  checkpoint                       flush all dirty pages and the log
  recover                          re-run Analysis/Redo/Undo against the WAL
  status                           print engine counters
  \q | quit | exit                 leave`)
}

func (c *console) requireTxn() (*txn.Transaction, error) {
	if c.current == nil {
		return nil, fmt.Errorf("no active transaction; run 'begin' first")
	}
	return c.current, nil
}

func (c *console) cmdBegin() error {
	if c.current != nil {
		return fmt.Errorf("transaction %d already active", c.current.ID())
	}
	t, err := c.txns.Begin(txn.ReadCommitted)
	if err != nil {
		return err
	}
	c.current = t
	fmt.Printf("txn %d started\n", t.ID())
	return nil
}

func (c *console) cmdCommit() error {
	t, err := c.requireTxn()
	if err != nil {
		return err
	}
	if err := c.txns.Commit(t); err != nil {
		return err
	}
	c.current = nil
	return nil
}

func (c *console) cmdAbort() error {
	t, err := c.requireTxn()
	if err != nil {
		return err
	}
	if err := c.txns.Abort(t); err != nil {
		return err
	}
	c.current = nil
	return nil
}

func (c *console) cmdNewPage() error {
	frame, id, err := c.pool.NewPage()
	if err != nil {
		return err
	}
	slotpage.Init(frame.Data())
	if err := c.pool.UnpinPage(id, true); err != nil {
		return err
	}
	fmt.Printf("page %d\n", id)
	return nil
}

func (c *console) cmdInsert(args []string) error {
	if len(args) < 2 {
		return fmt.Errorf("usage: insert <page> <text>")
	}
	t, err := c.requireTxn()
	if err != nil {
		return err
	}
	pageID, err := parsePageID(args[0])
	if err != nil {
		return err
	}
	tuple := []byte(strings.Join(args[1:], " "))

	rid := lock.RID{PageID: pageID, Slot: -1}
	if !c.lock.LockExclusive(t, rid) {
		return fmt.Errorf("lock timeout on page %d", pageID)
	}

	frame, err := c.pool.FetchPage(pageID)
	if err != nil {
		return err
	}
	frame.Latch()
	slot, ok := slotpage.InsertAppend(frame.Data(), tuple)
	frame.Unlatch()
	if !ok {
		_ = c.pool.UnpinPage(pageID, false)
		return fmt.Errorf("page %d has no room for %d bytes", pageID, len(tuple))
	}

	lsn, err := c.log.Append(walog.NewInsert(t.ID(), t.LastLSN(), walog.RID{PageID: pageID, Slot: int32(slot)}, tuple))
	if err != nil {
		_ = c.pool.UnpinPage(pageID, true)
		return err
	}
	t.SetLastLSN(lsn)
	frame.SetPageLSN(lsn)
	if err := c.pool.UnpinPage(pageID, true); err != nil {
		return err
	}

	fmt.Printf("rid (%d,%d)\n", pageID, slot)
	return nil
}

func (c *console) cmdGet(args []string) error {
	if len(args) != 2 {
		return fmt.Errorf("usage: get <page> <slot>")
	}
	pageID, err := parsePageID(args[0])
	if err != nil {
		return err
	}
	slot, err := strconv.Atoi(args[1])
	if err != nil {
		return fmt.Errorf("bad slot %q: %w", args[1], err)
	}

	frame, err := c.pool.FetchPage(pageID)
	if err != nil {
		return err
	}
	frame.RLatch()
	tuple, ok := slotpage.ReadTuple(frame.Data(), slot)
	frame.RUnlatch()
	if err := c.pool.UnpinPage(pageID, false); err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("no tuple at (%d,%d)", pageID, slot)
	}
	fmt.Printf("%s\n", tuple)
	return nil
}

func (c *console) cmdUpdate(args []string) error {
	if len(args) < 3 {
		return fmt.Errorf("usage: update <page> <slot> <text>")
	}
	t, err := c.requireTxn()
	if err != nil {
		return err
	}
	pageID, err := parsePageID(args[0])
	if err != nil {
		return err
	}
	slot, err := strconv.Atoi(args[1])
	if err != nil {
		return fmt.Errorf("bad slot %q: %w", args[1], err)
	}
	newTuple := []byte(strings.Join(args[2:], " "))

	rid := lock.RID{PageID: pageID, Slot: int32(slot)}
	if !c.lock.LockExclusive(t, rid) {
		return fmt.Errorf("lock timeout on (%d,%d)", pageID, slot)
	}

	frame, err := c.pool.FetchPage(pageID)
	if err != nil {
		return err
	}
	frame.Latch()
	oldTuple, ok := slotpage.ReadTuple(frame.Data(), slot)
	if !ok {
		frame.Unlatch()
		_ = c.pool.UnpinPage(pageID, false)
		return fmt.Errorf("no tuple at (%d,%d)", pageID, slot)
	}
	if !slotpage.UpdateTuple(frame.Data(), slot, newTuple) {
		frame.Unlatch()
		_ = c.pool.UnpinPage(pageID, false)
		return fmt.Errorf("page %d has no room for the new tuple", pageID)
	}
	frame.Unlatch()

	lsn, err := c.log.Append(walog.NewUpdate(t.ID(), t.LastLSN(), walog.RID{PageID: pageID, Slot: int32(slot)}, oldTuple, newTuple))
	if err != nil {
		_ = c.pool.UnpinPage(pageID, true)
		return err
	}
	t.SetLastLSN(lsn)
	frame.SetPageLSN(lsn)
	return c.pool.UnpinPage(pageID, true)
}

func (c *console) cmdDelete(args []string) error {
	if len(args) != 2 {
		return fmt.Errorf("usage: delete <page> <slot>")
	}
	t, err := c.requireTxn()
	if err != nil {
		return err
	}
	pageID, err := parsePageID(args[0])
	if err != nil {
		return err
	}
	slot, err := strconv.Atoi(args[1])
	if err != nil {
		return fmt.Errorf("bad slot %q: %w", args[1], err)
	}

	rid := lock.RID{PageID: pageID, Slot: int32(slot)}
	if !c.lock.LockExclusive(t, rid) {
		return fmt.Errorf("lock timeout on (%d,%d)", pageID, slot)
	}

	frame, err := c.pool.FetchPage(pageID)
	if err != nil {
		return err
	}
	frame.Latch()
	oldTuple, ok := slotpage.ReadTuple(frame.Data(), slot)
	if !ok {
		frame.Unlatch()
		_ = c.pool.UnpinPage(pageID, false)
		return fmt.Errorf("no tuple at (%d,%d)", pageID, slot)
	}
	slotpage.DeleteTuple(frame.Data(), slot)
	frame.Unlatch()

	lsn, err := c.log.Append(walog.NewDelete(t.ID(), t.LastLSN(), walog.RID{PageID: pageID, Slot: int32(slot)}, oldTuple))
	if err != nil {
		_ = c.pool.UnpinPage(pageID, true)
		return err
	}
	t.SetLastLSN(lsn)
	frame.SetPageLSN(lsn)
	return c.pool.UnpinPage(pageID, true)
}

func (c *console) cmdStatus() {
	fmt.Println(c.stat.Snapshot().String())
	fmt.Printf("persistent LSN: %d\n", c.log.PersistentLSN())
	fmt.Printf("pages on disk: %d\n", c.disk.PageCount())
}

func parsePageID(s string) (int32, error) {
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("bad page id %q: %w", s, err)
	}
	return int32(n), nil
}
