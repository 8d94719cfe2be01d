package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/gvsall/libpthread"
)

func init() {
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "Usage: %s [options] <command> [name]\n", os.Args[0])
		fmt.Fprintf(flag.CommandLine.Output(), "\n Options:\n")
		flag.PrintDefaults()
		fmt.Fprintf(flag.CommandLine.Output(), "\n Commands:\n")

		var tab = tabwriter.NewWriter(flag.CommandLine.Output(), 0, 2, 2, ' ', 0)

		fmt.Fprintln(tab, "  list\t\tprint the live named semaphores")
		fmt.Fprintln(tab, "  stat\t<name>\tprint count and handle total for one semaphore")
		fmt.Fprintln(tab, "  create\t<name>\tcreate a semaphore and hold it until interrupted")
		fmt.Fprintln(tab, "  post\t<name>\tincrement the count")
		fmt.Fprintln(tab, "  wait\t<name>\tdecrement the count, blocking (see -timeout)")
		fmt.Fprintln(tab, "  trywait\t<name>\tdecrement the count without blocking")
		fmt.Fprintln(tab, "  unlink\t<name>\tremove a name (kept for compatibility, does nothing)")

		tab.Flush()
	}
}

func main() {

	var (
		socket  = flag.String("socket", libpthread.DefaultSocketPath(), "broker socket")
		value   = flag.Uint("value", 0, "initial count for create")
		excl    = flag.Bool("excl", false, "fail create when the name already exists")
		timeout = flag.Duration("timeout", 0, "give up waiting after this long (0 blocks forever)")
	)

	flag.Parse()

	var args = flag.Args()

	if len(args) < 1 {
		flag.Usage()
		os.Exit(1)
	}

	var verb, name = args[0], ""

	if len(args) > 1 {
		name = args[1]
	}

	if verb != "list" && name == "" {
		flag.Usage()
		os.Exit(1)
	}

	client, err := libpthread.Dial(*socket)

	if err != nil {
		fatal(err)
	}

	defer client.Close()

	switch verb {
	case "list":
		sems, err := client.Names()
		if err != nil {
			fatal(err)
		}
		var tab = tabwriter.NewWriter(os.Stdout, 0, 2, 2, ' ', 0)
		fmt.Fprintln(tab, "NAME\tCOUNT\tREFS")
		for _, s := range sems {
			fmt.Fprintf(tab, "%s\t%d\t%d\n", s.Name, s.Count, s.Refs)
		}
		tab.Flush()
	case "stat":
		info, err := client.Stat(name)
		if err != nil {
			fatal(err)
		}
		fmt.Printf("name=%s count=%d refs=%d\n", info.Name, info.Count, info.Refs)
	case "create":
		var flags = os.O_CREATE
		if *excl {
			flags |= os.O_EXCL
		}
		sem, err := client.OpenSemaphore(name, flags, 0, *value)
		if err != nil {
			fatal(err)
		}
		fmt.Printf("holding %q, interrupt to release\n", name)
		var ctx, stop = signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		<-ctx.Done()
		sem.Close()
	case "post":
		var sem = open(client, name)
		if err := sem.Post(); err != nil {
			fatal(err)
		}
		sem.Close()
	case "wait":
		var sem = open(client, name)
		var err error
		if *timeout > 0 {
			err = sem.WaitUntil(time.Now().Add(*timeout))
		} else {
			err = sem.Wait()
		}
		if err != nil {
			fatal(err)
		}
		sem.Close()
	case "trywait":
		var sem = open(client, name)
		if err := sem.TryWait(); err != nil {
			fatal(err)
		}
		sem.Close()
	case "unlink":
		if err := client.UnlinkSemaphore(name); err != nil {
			fatal(err)
		}
	default:
		flag.Usage()
		os.Exit(1)
	}
}

func open(client *libpthread.Client, name string) *libpthread.Semaphore {
	sem, err := client.OpenSemaphore(name, 0, 0, 0)
	if err != nil {
		fatal(err)
	}
	return sem
}

func fatal(err error) {
	if errno, ok := libpthread.AsErrno(err); ok {
		fmt.Fprintf(os.Stderr, "semctl: %s (errno %d)\n", errno, uint32(errno))
	} else {
		fmt.Fprintf(os.Stderr, "semctl: %s\n", err)
	}
	os.Exit(1)
}
