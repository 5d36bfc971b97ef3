// qbench is a REPL and micro-benchmark tool for a diskqueue data
// directory.
//
// Usage:
//
//	qbench [options] <data-dir>
//
// Options:
//
//	-l, --limits       Path to a JSONC size-limits config file
//	-v, --verbose      Log at debug level instead of info
//
// Commands (in REPL):
//
//	push <channel> <payload>        Push a record to a channel
//	pop <channel>                   Pop from a channel's default storage
//	sub <channel> <subscriber>      Subscribe and show the storage id
//	consume <channel> <subscriber>  Pop from a named subscriber's storage
//	stats <channel>                 Show record/byte counts
//	channels                        List live channel names
//	flush                           Flush the engine
//	bench <channel> <count>         Push/pop count records, report timing
//	help                            Show this help
//	exit / quit / q                 Exit
package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/peterh/liner"
	flag "github.com/spf13/pflag"

	"github.com/calvinalkan/diskqueue"
	"github.com/calvinalkan/diskqueue/config"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	fs := flag.NewFlagSet("qbench", flag.ExitOnError)

	limitsPath := fs.StringP("limits", "l", "", "path to a JSONC size-limits config file")
	verbose := fs.BoolP("verbose", "v", false, "log at debug level instead of info")

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: qbench [options] <data-dir>\n\nOptions:\n")
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		return err
	}

	if fs.NArg() < 1 {
		fs.Usage()
		return fmt.Errorf("missing data directory")
	}

	dataDir := fs.Arg(0)

	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}
	log := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	var opts []diskqueue.Option
	opts = append(opts, diskqueue.WithLogger(log))

	if *limitsPath != "" {
		limits, err := config.Load(*limitsPath)
		if err != nil {
			return fmt.Errorf("loading limits: %w", err)
		}
		opts = append(opts, diskqueue.WithLimits(limits))
	}

	engine, err := diskqueue.Open(dataDir, opts...)
	if err != nil {
		return fmt.Errorf("opening %s: %w", dataDir, err)
	}
	defer engine.Close()

	repl := &REPL{engine: engine, log: log}

	return repl.Run()
}

// REPL is the interactive command loop.
type REPL struct {
	engine *diskqueue.Engine
	log    *slog.Logger
	liner  *liner.State
}

func historyFile() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".qbench_history")
}

// Run starts the REPL loop.
func (r *REPL) Run() error {
	r.liner = liner.NewLiner()
	defer r.liner.Close()

	r.liner.SetCtrlCAborts(true)
	r.liner.SetCompleter(r.completer)

	if f, err := os.Open(historyFile()); err == nil {
		r.liner.ReadHistory(f)
		f.Close()
	}

	fmt.Println("qbench - diskqueue REPL. Type 'help' for available commands.")

	for {
		line, err := r.liner.Prompt("qbench> ")
		if err != nil {
			if err == liner.ErrPromptAborted || err == io.EOF {
				fmt.Println("\nBye!")
				break
			}
			return fmt.Errorf("reading input: %w", err)
		}

		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		r.liner.AppendHistory(line)

		parts := strings.Fields(line)
		cmd := strings.ToLower(parts[0])
		cmdArgs := parts[1:]

		switch cmd {
		case "exit", "quit", "q":
			fmt.Println("Bye!")
			r.saveHistory()
			return nil
		case "help", "?":
			r.printHelp()
		case "push":
			r.cmdPush(cmdArgs)
		case "pop":
			r.cmdPop(cmdArgs)
		case "sub":
			r.cmdSubscribe(cmdArgs)
		case "consume":
			r.cmdConsume(cmdArgs)
		case "stats":
			r.cmdStats(cmdArgs)
		case "channels":
			r.cmdChannels()
		case "flush":
			r.cmdFlush()
		case "bench":
			r.cmdBench(cmdArgs)
		default:
			fmt.Printf("unknown command: %s (type 'help' for commands)\n", cmd)
		}
	}

	r.saveHistory()

	return nil
}

func (r *REPL) saveHistory() {
	if path := historyFile(); path != "" {
		if f, err := os.Create(path); err == nil {
			r.liner.WriteHistory(f)
			f.Close()
		}
	}
}

func (r *REPL) completer(line string) []string {
	commands := []string{"push", "pop", "sub", "consume", "stats", "channels", "flush", "bench", "help", "exit"}
	var out []string
	for _, c := range commands {
		if strings.HasPrefix(c, line) {
			out = append(out, c)
		}
	}
	return out
}

func (r *REPL) printHelp() {
	fmt.Println(`Commands:
  push <channel> <payload>        Push a record to a channel
  pop <channel>                   Pop from a channel's default storage
  sub <channel> <subscriber>      Subscribe and show the storage id
  consume <channel> <subscriber>  Pop from a named subscriber's storage
  stats <channel>                 Show record/byte counts
  channels                        List live channel names
  flush                           Flush the engine
  bench <channel> <count>         Push/pop count records, report timing
  help                            Show this help
  exit / quit / q                 Exit`)
}

func (r *REPL) cmdPush(args []string) {
	if len(args) < 2 {
		fmt.Println("usage: push <channel> <payload>")
		return
	}

	ch, err := r.engine.Channel(args[0])
	if err != nil {
		fmt.Println("error:", err)
		return
	}

	if err := ch.Push([]byte(strings.Join(args[1:], " "))); err != nil {
		fmt.Println("error:", err)
		return
	}

	fmt.Println("ok")
}

func (r *REPL) cmdPop(args []string) {
	if len(args) < 1 {
		fmt.Println("usage: pop <channel>")
		return
	}

	ch, err := r.engine.Channel(args[0])
	if err != nil {
		fmt.Println("error:", err)
		return
	}

	payload, ok, err := ch.Pop(func(n int) []byte { return make([]byte, n) })
	if err != nil {
		fmt.Println("error:", err)
		return
	}
	if !ok {
		fmt.Println("(empty)")
		return
	}

	fmt.Printf("%q\n", payload)
}

func (r *REPL) cmdSubscribe(args []string) {
	if len(args) < 2 {
		fmt.Println("usage: sub <channel> <subscriber>")
		return
	}

	ch, err := r.engine.Channel(args[0])
	if err != nil {
		fmt.Println("error:", err)
		return
	}

	st, err := ch.Subscribe(args[1])
	if err != nil {
		fmt.Println("error:", err)
		return
	}

	fmt.Printf("storage id: %s\n", st.ID())
}

func (r *REPL) cmdConsume(args []string) {
	if len(args) < 2 {
		fmt.Println("usage: consume <channel> <subscriber>")
		return
	}

	ch, err := r.engine.Channel(args[0])
	if err != nil {
		fmt.Println("error:", err)
		return
	}

	st, err := ch.Subscribe(args[1])
	if err != nil {
		fmt.Println("error:", err)
		return
	}

	payload, ok, err := st.Pop(func(n int) []byte { return make([]byte, n) })
	if err != nil {
		fmt.Println("error:", err)
		return
	}
	if !ok {
		fmt.Println("(empty)")
		return
	}

	fmt.Printf("%q\n", payload)
}

func (r *REPL) cmdStats(args []string) {
	if len(args) < 1 {
		fmt.Println("usage: stats <channel>")
		return
	}

	ch, err := r.engine.Channel(args[0])
	if err != nil {
		fmt.Println("error:", err)
		return
	}

	fmt.Printf("records=%d bytes=%d\n", ch.NumRecords(), ch.NumBytes())
}

func (r *REPL) cmdChannels() {
	r.engine.IterateChannelNames(func(name string) {
		fmt.Println(name)
	})
}

func (r *REPL) cmdFlush() {
	if err := r.engine.Flush(); err != nil {
		fmt.Println("error:", err)
		return
	}
	fmt.Println("ok")
}

func (r *REPL) cmdBench(args []string) {
	if len(args) < 2 {
		fmt.Println("usage: bench <channel> <count>")
		return
	}

	count, err := strconv.Atoi(args[1])
	if err != nil || count <= 0 {
		fmt.Println("error: count must be a positive integer")
		return
	}

	ch, err := r.engine.Channel(args[0])
	if err != nil {
		fmt.Println("error:", err)
		return
	}

	payload := []byte("benchmark-payload")

	start := time.Now()
	for range count {
		if err := ch.Push(payload); err != nil {
			fmt.Println("push error:", err)
			return
		}
	}
	pushElapsed := time.Since(start)

	start = time.Now()
	for range count {
		_, ok, err := ch.Pop(func(n int) []byte { return make([]byte, n) })
		if err != nil {
			fmt.Println("pop error:", err)
			return
		}
		if !ok {
			fmt.Println("pop error: channel drained early")
			return
		}
	}
	popElapsed := time.Since(start)

	fmt.Printf("push: %d records in %s (%.0f/s)\n", count, pushElapsed, float64(count)/pushElapsed.Seconds())
	fmt.Printf("pop:  %d records in %s (%.0f/s)\n", count, popElapsed, float64(count)/popElapsed.Seconds())
}
