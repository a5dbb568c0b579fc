// cmd/qmbmon/console.go
package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/tamzrod/qmb-monitor/internal/fault"
	"github.com/tamzrod/qmb-monitor/internal/regmap"
	"github.com/tamzrod/qmb-monitor/internal/scaledio"
	"github.com/tamzrod/qmb-monitor/internal/session"
	"github.com/tamzrod/qmb-monitor/internal/status"
)

const callTimeout = 5 * time.Second

// engine is the part of *session.Engine the console drives.
type engine interface {
	Send(session.Command) bool
	Status() status.Snapshot
	Write(ctx context.Context, req scaledio.WriteRequest) error
	ReadValue(ctx context.Context, name string) (scaledio.Value, error)
}

// console reads one command per line and prints one reply per command.
type console struct {
	e   engine
	m   *regmap.Map
	out io.Writer
}

const usage = `commands:
  connect              start discovery
  disconnect           close the session and go idle
  scan                 restart discovery (ignored while connected)
  status               show the session indicator
  read <name>          read one register
  write <name> <v>     write a value (or an enum label)
  regs                 list writable registers
  quit                 exit`

// serve runs until r is exhausted, quit is entered or ctx ends.
func (c *console) serve(ctx context.Context, r io.Reader) {
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		if ctx.Err() != nil {
			return
		}
		if !c.exec(ctx, sc.Text()) {
			return
		}
	}
}

// exec runs one line. It reports false when the console should stop.
func (c *console) exec(ctx context.Context, line string) bool {
	args := strings.Fields(line)
	if len(args) == 0 {
		return true
	}

	switch strings.ToLower(args[0]) {
	case "quit", "exit":
		return false

	case "help", "?":
		fmt.Fprintln(c.out, usage)

	case "connect":
		c.send(session.CmdConnect)
	case "disconnect":
		c.send(session.CmdDisconnect)
	case "scan", "rescan":
		c.send(session.CmdRescan)

	case "status":
		s := c.e.Status()
		fmt.Fprintf(c.out, "%s [%s]", s.Text(), s.State)
		if s.LastErrorCode != 0 {
			fmt.Fprintf(c.out, " last error %d", s.LastErrorCode)
		}
		fmt.Fprintln(c.out)

	case "regs":
		for _, name := range c.m.Writable() {
			r, _ := c.m.ByName(name)
			fmt.Fprintf(c.out, "  %-32s %s", name, r.Type)
			if r.Min != nil {
				fmt.Fprintf(c.out, " min %g", *r.Min)
			}
			if r.Max != nil {
				fmt.Fprintf(c.out, " max %g", *r.Max)
			}
			fmt.Fprintln(c.out)
		}

	case "read", "get":
		if len(args) != 2 {
			fmt.Fprintln(c.out, "usage: read <name>")
			return true
		}
		cctx, cancel := context.WithTimeout(ctx, callTimeout)
		defer cancel()
		v, err := c.e.ReadValue(cctx, args[1])
		if err != nil {
			c.fail(err)
			return true
		}
		fmt.Fprintf(c.out, "%s = %s\n", args[1], v)

	case "write", "set":
		if len(args) != 3 {
			fmt.Fprintln(c.out, "usage: write <name> <value>")
			return true
		}
		req := writeRequest(args[1], args[2])
		cctx, cancel := context.WithTimeout(ctx, callTimeout)
		defer cancel()
		if err := c.e.Write(cctx, req); err != nil {
			c.fail(err)
			return true
		}
		fmt.Fprintf(c.out, "ok %s\n", req)

	default:
		fmt.Fprintf(c.out, "unknown command %q (try help)\n", args[0])
	}
	return true
}

func (c *console) send(cmd session.Command) {
	if !c.e.Send(cmd) {
		fmt.Fprintf(c.out, "busy, %s dropped\n", cmd)
		return
	}
	fmt.Fprintln(c.out, cmd)
}

func (c *console) fail(err error) {
	fmt.Fprintf(c.out, "error %d: %v\n", fault.Code(err), err)
}

// writeRequest treats anything that does not parse as a number as an enum
// label.
func writeRequest(name, arg string) scaledio.WriteRequest {
	if v, err := strconv.ParseFloat(arg, 64); err == nil {
		return scaledio.WriteRequest{Register: name, Value: v}
	}
	return scaledio.WriteRequest{Register: name, Label: arg}
}
