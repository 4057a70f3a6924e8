// Command chordctl is the client-side front end for the ring: it builds
// one request envelope per invocation, sends it to a single contact peer,
// and prints the decoded response. A `shell` subcommand wraps the same
// surface in an interactive, line-edited session for issuing several
// commands without re-invoking the binary; each command still opens its
// own connection to the peer.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/peterh/liner"

	"chordring/internal/rpcclient"
	"chordring/internal/wire"
)

func main() {
	host := flag.String("host", "127.0.0.1", "target peer host")
	port := flag.Int("port", 5000, "target peer port")
	quiet := flag.Bool("quiet", false, "suppress response output (for benchmark runs)")
	timeout := flag.Duration("timeout", 5*time.Second, "request timeout")
	flag.Parse()

	addr := fmt.Sprintf("%s:%d", *host, *port)
	client := rpcclient.New(rpcclient.WithTimeout(*timeout))

	args := flag.Args()
	if len(args) == 0 || args[0] == "help" {
		printHelp()
		return
	}

	if args[0] == "shell" {
		runShell(client, addr, *timeout)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	ownTag := fmt.Sprintf("%s:%d", *host, *port)
	resp, err := dispatch(ctx, client, addr, ownTag, args)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	if !*quiet {
		printResponse(args[0], resp)
	}
	if !resp.OK {
		os.Exit(1)
	}
}

// dispatch builds the wire request for one CLI command and sends it.
// ownTag is this CLI invocation's own "<host>:<port>", substituted as the
// uploader tag whenever a command's value argument is omitted.
func dispatch(ctx context.Context, client *rpcclient.Client, addr, ownTag string, args []string) (*wire.Response, error) {
	cmd := args[0]
	rest := args[1:]

	switch cmd {
	case "insert":
		if len(rest) < 1 {
			return nil, errors.New("usage: insert <key> [value]")
		}
		key := rest[0]
		value := ownTag
		if len(rest) >= 2 {
			value = rest[1]
		}
		return client.Send(ctx, addr, wire.Request{Cmd: wire.CmdPut, Key: key, Value: value})

	case "query":
		if len(rest) < 1 {
			return nil, errors.New("usage: query <key>")
		}
		return client.Send(ctx, addr, wire.Request{Cmd: wire.CmdGet, Key: rest[0]})

	case "delete":
		if len(rest) < 1 {
			return nil, errors.New("usage: delete <key> [value]")
		}
		key := rest[0]
		value := ownTag
		if len(rest) >= 2 {
			value = rest[1]
		}
		return client.Send(ctx, addr, wire.Request{Cmd: wire.CmdDelete, Key: key, Value: value})

	case "depart":
		return client.Send(ctx, addr, wire.Request{Cmd: wire.CmdDepart})

	case "overlay":
		return client.Send(ctx, addr, wire.Request{Cmd: wire.CmdGetOverlay})

	case "info":
		return client.Send(ctx, addr, wire.Request{Cmd: wire.CmdGetNodeInfo})

	default:
		return nil, fmt.Errorf("unknown command: %s (see 'help')", cmd)
	}
}

func printResponse(cmd string, resp *wire.Response) {
	if !resp.OK {
		fmt.Printf("ERROR: %s\n", resp.Error)
		return
	}
	switch cmd {
	case "insert":
		fmt.Println("OK")
	case "delete":
		fmt.Println("OK")
	case "query":
		if resp.StoreByPeer != nil {
			printStoreByPeer(resp.StoreByPeer)
			return
		}
		if !resp.Found {
			fmt.Printf("value=[] id=%s\n", resp.HolderID)
			return
		}
		fmt.Printf("value=%v id=%s\n", resp.Values, resp.HolderID)
	case "depart":
		fmt.Println("departing")
	case "overlay":
		for _, peer := range resp.Ring {
			fmt.Printf("  %s  %s\n", peer.ID, peer.Addr)
		}
	case "info":
		fmt.Printf("self:        %s\n", nodeInfoString(resp.Node))
		fmt.Printf("successor:   %s\n", nodeInfoString(resp.Successor))
		fmt.Printf("predecessor: %s\n", nodeInfoString(resp.Predecessor))
	}
}

func printStoreByPeer(byPeer map[string][]wire.Entry) {
	ids := make([]string, 0, len(byPeer))
	for id := range byPeer {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		fmt.Printf("peer %s:\n", id)
		for _, e := range byPeer[id] {
			fmt.Printf("  %s = %v\n", e.Key, e.Values)
		}
	}
}

func nodeInfoString(n *wire.NodeInfo) string {
	if n == nil {
		return "<unknown>"
	}
	return fmt.Sprintf("%s (%s)", n.ID, n.Addr)
}

func printHelp() {
	fmt.Println(`chordctl - command-line front end for a chordring peer

Usage: chordctl [--host HOST] [--port PORT] <command> [args...]

Commands:
  insert <key> [value]   store value under key (value defaults to host:port)
  query <key>             read the values stored under key ("*" dumps every peer's store)
  delete <key> [value]    remove value from key (value defaults to host:port)
  depart                  tell the contacted peer to leave the ring gracefully
  overlay                 list every peer currently reachable by walking the ring
  info                    show the contacted peer's own id/successor/predecessor
  shell                   start an interactive session against one peer
  help                    show this message

Flags:
  --host HOST   target peer host (default 127.0.0.1)
  --port PORT   target peer port (default 5000)
  --timeout D   request timeout (default 5s)
  --quiet       suppress response output`)
}

// runShell wraps the same command surface in a liner-backed REPL, so an
// operator can issue several commands against one contact peer without
// re-invoking the binary for each.
func runShell(client *rpcclient.Client, addr string, timeout time.Duration) {
	line := liner.NewLiner()
	defer line.Close()
	line.SetCtrlCAborts(true)

	fmt.Printf("chordctl shell, connected to %s. Type 'help' or 'exit'.\n", addr)
	for {
		input, err := line.Prompt(fmt.Sprintf("chordctl[%s]> ", addr))
		if err != nil {
			if errors.Is(err, liner.ErrPromptAborted) {
				continue
			}
			return
		}
		input = strings.TrimSpace(input)
		if input == "" {
			continue
		}
		line.AppendHistory(input)

		args := strings.Fields(input)
		switch args[0] {
		case "exit", "quit":
			return
		case "help":
			printHelp()
			continue
		}

		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		ownTag := addr
		resp, err := dispatch(ctx, client, addr, ownTag, args)
		cancel()
		if err != nil {
			fmt.Printf("error: %v\n", err)
			continue
		}
		printResponse(args[0], resp)
	}
}
