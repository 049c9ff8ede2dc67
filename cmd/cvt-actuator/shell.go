package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"

	"github.com/abiosoft/ishell"

	"github.com/sweeney/cvt-actuator/internal/diag"
	"github.com/sweeney/cvt-actuator/internal/odrive"
)

const defaultBenchShots = 100

type shellCmd struct {
	help string
	run  func(args []string, w io.Writer) error
}

// bench holds the interactive diagnostic commands. Each command writes its
// output to w so it can run outside a terminal.
type bench struct {
	ctx context.Context
	d   *daemon
}

func (b *bench) commands() map[string]shellCmd {
	return map[string]shellCmd{
		"errors":   {"errors: dump controller error registers", b.errors},
		"bench":    {"bench [n]: time n velocity-estimate round trips", b.bench},
		"home":     {"home: run one homing attempt", b.home},
		"velocity": {"velocity <v>: closed-loop control at v turns/s", b.velocity},
		"idle":     {"idle: put the actuator axis in Idle", b.idle},
		"estop":    {"estop: latch the emergency stop", b.estop},
		"reset":    {"reset: clear the emergency stop latch", b.reset},
		"status":   {"status: estop, homing and link counters", b.status},
		"report":   {"report: full diagnostic report", b.report},
	}
}

// exec runs one command by name.
func (b *bench) exec(name string, args []string, w io.Writer) error {
	cmd, ok := b.commands()[name]
	if !ok {
		return fmt.Errorf("unknown command %q", name)
	}
	return cmd.run(args, w)
}

func (b *bench) errors(args []string, w io.Writer) error {
	report, err := b.d.client.DumpErrors(b.d.axes())
	fmt.Fprintln(w, report)
	return err
}

func (b *bench) bench(args []string, w io.Writer) error {
	n := defaultBenchShots
	if len(args) > 0 {
		v, err := strconv.Atoi(args[0])
		if err != nil || v < 1 {
			return fmt.Errorf("bench: invalid count %q", args[0])
		}
		n = v
	}
	res := diag.Benchmark(b.d.client, b.d.cfg.Actuator.Axis, n)
	fmt.Fprintln(w, res)
	return nil
}

func (b *bench) home(args []string, w io.Writer) error {
	res := b.d.home(b.ctx)
	if res.Outbound != nil {
		fmt.Fprintf(w, "homing %s in %v, outbound at %d\n", res.Status, res.Elapsed, *res.Outbound)
	} else {
		fmt.Fprintf(w, "homing %s in %v\n", res.Status, res.Elapsed)
	}
	return nil
}

func (b *bench) velocity(args []string, w io.Writer) error {
	if len(args) != 1 {
		return errors.New("usage: velocity <v>")
	}
	v, err := strconv.ParseFloat(args[0], 64)
	if err != nil {
		return fmt.Errorf("velocity: %w", err)
	}
	axis := b.d.cfg.Actuator.Axis
	if _, err := b.d.client.SetAxisState(axis, odrive.StateClosedLoopControl, false, 0); err != nil {
		return err
	}
	if err := b.d.client.SetVelocity(axis, v); err != nil {
		return err
	}
	fmt.Fprintf(w, "axis%d velocity %v\n", axis, v)
	return nil
}

func (b *bench) idle(args []string, w io.Writer) error {
	axis := b.d.cfg.Actuator.Axis
	idle, err := b.d.client.SetAxisState(axis, odrive.StateIdle, true, idleWait)
	if err != nil {
		return err
	}
	if idle {
		fmt.Fprintf(w, "axis%d idle\n", axis)
	} else {
		fmt.Fprintf(w, "axis%d not idle after %v\n", axis, idleWait)
	}
	return nil
}

func (b *bench) estop(args []string, w io.Writer) error {
	b.d.monitor.AssertEstop()
	fmt.Fprintln(w, "estop asserted")
	return nil
}

func (b *bench) reset(args []string, w io.Writer) error {
	b.d.monitor.Reset()
	fmt.Fprintln(w, "estop cleared")
	return nil
}

func (b *bench) status(args []string, w io.Writer) error {
	b.d.refresh()
	snap := b.d.tracker.Snapshot()
	if b.d.monitor.Asserted() {
		fmt.Fprintf(w, "estop: asserted since %s", b.d.monitor.Since().Format("15:04:05.000"))
	} else {
		fmt.Fprint(w, "estop: clear")
	}
	fmt.Fprintf(w, " edges=%d\n", b.d.monitor.Assertions())
	if snap.Homing != nil {
		fmt.Fprintf(w, "homing: %s\n", snap.Homing.Status)
	} else {
		fmt.Fprintln(w, "homing: not run")
	}
	l := snap.Link
	fmt.Fprintf(w, "link: commands=%d queries=%d timeouts=%d malformed=%d suppressed=%d\n",
		l.Commands, l.Queries, l.Timeouts, l.Malformed, l.Suppressed)
	return nil
}

func (b *bench) report(args []string, w io.Writer) error {
	report, err := diag.Report(b.d.client, b.d.inputs, b.d.counter, b.d.axes())
	fmt.Fprintln(w, report)
	return err
}

func runShell(ctx context.Context, d *daemon) {
	b := &bench{ctx: ctx, d: d}

	shell := ishell.New()
	shell.Println("CVT actuator diagnostic shell")
	shell.ShowPrompt(true)

	cmds := b.commands()
	names := make([]string, 0, len(cmds))
	for name := range cmds {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		name, cmd := name, cmds[name]
		shell.AddCmd(&ishell.Cmd{
			Name: name,
			Help: cmd.help,
			Func: func(c *ishell.Context) {
				var out strings.Builder
				err := cmd.run(c.Args, &out)
				c.Print(out.String())
				if err != nil {
					c.Err(err)
				}
			},
		})
	}

	shell.Run()
}
