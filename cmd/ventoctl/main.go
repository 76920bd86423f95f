// Command ventoctl talks to Vento Expert fans directly, without the API
// server or database.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/pflag"
	"github.com/urmzd/ecovent/pkg/vento"
)

func main() {
	zerolog.SetGlobalLevel(zerolog.WarnLevel)
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	switch os.Args[1] {
	case "search":
		searchCmd(os.Args[2:])
	case "status":
		statusCmd(os.Args[2:])
	case "set":
		setCmd(os.Args[2:])
	case "help", "-h", "--help":
		usage()
	default:
		usage()
		os.Exit(2)
	}
}

func searchCmd(args []string) {
	flags := pflag.NewFlagSet("search", pflag.ExitOnError)
	target := flags.String("target", "255.255.255.255", "Broadcast address, optionally with port")
	password := flags.String("password", vento.DefaultPassword, "Fan password")
	timeout := flags.Duration("timeout", vento.DefaultSearchTimeout, "How long to wait for replies")
	out := outputFlags(flags)
	_ = flags.Parse(args)

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	found, err := vento.Discover(ctx, *target, *password)
	if err != nil {
		fatal("search", err)
	}

	if out.json {
		out.printJSON(found)
		return
	}
	if len(found) == 0 {
		fmt.Println("no fans found")
		return
	}
	rows := [][]string{{"ADDRESS", "DEVICE ID", "UNIT TYPE"}}
	for _, f := range found {
		rows = append(rows, []string{f.Address, f.DeviceID, f.UnitType})
	}
	out.table(rows)
}

// connFlags are shared by commands that talk to a single fan.
type connFlags struct {
	host     *string
	port     *int
	password *string
	deviceID *string
	timeout  *time.Duration
}

func addConnFlags(flags *pflag.FlagSet) connFlags {
	return connFlags{
		host:     flags.StringP("host", "H", "", "Fan IP address (required)"),
		port:     flags.IntP("port", "p", vento.DefaultPort, "Fan UDP port"),
		password: flags.String("password", vento.DefaultPassword, "Fan password"),
		deviceID: flags.String("id", vento.DefaultDeviceID, "16-character device ID"),
		timeout:  flags.Duration("timeout", 10*time.Second, "Overall command timeout"),
	}
}

// connect reads the full state of the fan.
func (c connFlags) connect(ctx context.Context) *vento.Client {
	if *c.host == "" {
		fatal("connect", errors.New("--host is required"))
	}
	client, err := vento.New(*c.host, *c.port, *c.password, *c.deviceID, *c.host)
	if err != nil {
		fatal("connect", err)
	}
	if err := client.InitDevice(ctx); err != nil {
		_ = client.Close()
		fatal("read "+*c.host, err)
	}
	return client
}

func statusCmd(args []string) {
	flags := pflag.NewFlagSet("status", pflag.ExitOnError)
	conn := addConnFlags(flags)
	out := outputFlags(flags)
	_ = flags.Parse(args)

	ctx, cancel := context.WithTimeout(context.Background(), *conn.timeout)
	defer cancel()

	client := conn.connect(ctx)
	defer func() { _ = client.Close() }()
	printStatus(client, *out)
}

func setCmd(args []string) {
	flags := pflag.NewFlagSet("set", pflag.ExitOnError)
	conn := addConnFlags(flags)
	out := outputFlags(flags)
	_ = flags.Parse(args)

	assignments, err := parseAssignments(flags.Args())
	if err != nil {
		fatal("set", err)
	}
	if len(assignments) == 0 {
		fatal("set", fmt.Errorf("nothing to set; pass key=value pairs, writable keys: %s",
			strings.Join(vento.WritableKeys(), ", ")))
	}

	ctx, cancel := context.WithTimeout(context.Background(), *conn.timeout)
	defer cancel()

	client := conn.connect(ctx)
	defer func() { _ = client.Close() }()

	for _, a := range assignments {
		if err := client.SetParam(ctx, a.key, a.value); err != nil {
			fatal("set "+a.key, err)
		}
	}
	if err := client.Refresh(ctx); err != nil {
		log.Warn().Err(err).Msg("Values were written but the refresh failed")
	}
	printStatus(client, *out)
}

type assignment struct {
	key   string
	value any
}

// parseAssignments turns key=value arguments into typed values. Integers
// are passed as int, everything else as string.
func parseAssignments(args []string) ([]assignment, error) {
	out := make([]assignment, 0, len(args))
	for _, arg := range args {
		key, raw, ok := strings.Cut(arg, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return nil, fmt.Errorf("expected key=value, got %q", arg)
		}
		raw = strings.TrimSpace(raw)
		var value any = raw
		if n, err := strconv.Atoi(raw); err == nil {
			value = n
		}
		out = append(out, assignment{key: key, value: value})
	}
	return out, nil
}

func printStatus(client *vento.Client, out outputMode) {
	snap, ok := client.Snapshot()
	if !ok {
		fatal("status", errors.New("no state read"))
	}
	state := snap.Map()

	if out.json {
		out.printJSON(map[string]any{
			"device_id":  client.ID(),
			"updated_at": client.UpdatedAt(),
			"state":      state,
		})
		return
	}

	keys := make([]string, 0, len(state))
	for k := range state {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	rows := [][]string{
		{"device_id", client.ID()},
		{"updated", humanize.Time(client.UpdatedAt())},
	}
	for _, k := range keys {
		rows = append(rows, []string{k, fmt.Sprint(state[k])})
	}
	if len(snap.Unsupported) > 0 {
		rows = append(rows, []string{"unsupported", strings.Join(snap.Unsupported, ", ")})
	}
	out.table(rows)
}

func usage() {
	fmt.Fprintln(os.Stderr, `usage: ventoctl <command> [flags]

commands:
  search                      broadcast a search and list fans that answer
  status -H <ip>              read and print every parameter of a fan
  set -H <ip> key=value ...   write parameters, then print the new state

common flags: --port, --password, --id, --timeout, --json`)
}

func fatal(what string, err error) {
	fmt.Fprintf(os.Stderr, "ventoctl: %s: %v\n", what, err)
	os.Exit(1)
}
