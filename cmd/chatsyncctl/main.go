package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/matheus3301/chatsync/internal/api"
	"github.com/matheus3301/chatsync/internal/profile"
	grpcstatus "google.golang.org/grpc/status"
)

func main() {
	profileFlag := flag.String("profile", "", "profile name (overrides config default)")
	jsonFlag := flag.Bool("json", false, "output in JSON format")
	flag.Parse()

	profileName := profile.Resolve(*profileFlag)
	if err := profile.ValidateName(profileName); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	args := flag.Args()
	if len(args) == 0 {
		printUsage()
		os.Exit(1)
	}

	socketPath := profile.SocketPath(profileName)
	if args[0] == "start" {
		cmdStart(profileName, socketPath)
		return
	}

	c, err := api.Dial(socketPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: cannot connect to daemon for profile %q: %v\n", profileName, err)
		os.Exit(1)
	}
	defer func() { _ = c.Close() }()

	if args[0] == "watch" {
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		cmdWatch(ctx, c, args[1:], *jsonFlag)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	cmd := &cli{c: c, json: *jsonFlag}
	switch args[0] {
	case "status":
		cmd.status(ctx)
	case "snapshot":
		cmd.snapshot(ctx)
	case "chats":
		if len(args) >= 2 && args[1] == "refresh" {
			cmd.refresh(ctx)
		} else {
			cmd.chats(ctx)
		}
	case "messages":
		cmd.messages(ctx)
	case "select":
		cmd.selectChat(ctx, args[1:])
	case "clear-active":
		check(c.ClearActiveChat(ctx))
	case "send":
		cmd.send(ctx, args[1:])
	case "edit":
		cmd.edit(ctx, args[1:])
	case "delete-me":
		check(c.DeleteForMe(ctx, arg(args, 1, "delete-me <messageId>")))
	case "delete-all":
		check(c.DeleteForEveryone(ctx, arg(args, 1, "delete-all <messageId>")))
	case "clear":
		check(c.ClearChat(ctx, arg(args, 1, "clear <chatId>")))
	case "create":
		cmd.create(ctx, args[1:])
	case "contacts":
		cmd.contacts(ctx)
	case "read-all":
		cmd.readAll(ctx)
	case "typing":
		check(c.ComposerChanged(ctx))
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", args[0])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Fprintln(os.Stderr, "usage: chatsyncctl [--profile <name>] [--json] <command>")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "commands:")
	fmt.Fprintln(os.Stderr, "  start                          Start the daemon if it is not running")
	fmt.Fprintln(os.Stderr, "  status                         Show daemon status")
	fmt.Fprintln(os.Stderr, "  snapshot                       Dump the full session view")
	fmt.Fprintln(os.Stderr, "  chats [refresh]                List chats, or reload them from the server")
	fmt.Fprintln(os.Stderr, "  messages                       List messages of the active chat")
	fmt.Fprintln(os.Stderr, "  select <chatId>                Make a chat active")
	fmt.Fprintln(os.Stderr, "  clear-active                   Leave the active chat")
	fmt.Fprintln(os.Stderr, "  send [-chat id] [-phone p] <text>")
	fmt.Fprintln(os.Stderr, "                                 Send a message (default: active chat)")
	fmt.Fprintln(os.Stderr, "  edit <messageId> <text>        Edit one of your messages")
	fmt.Fprintln(os.Stderr, "  delete-me <messageId>          Hide a message for yourself")
	fmt.Fprintln(os.Stderr, "  delete-all <messageId>         Delete a message for everyone")
	fmt.Fprintln(os.Stderr, "  clear <chatId>                 Clear a chat's history")
	fmt.Fprintln(os.Stderr, "  create [-name n] [-new] <phone>")
	fmt.Fprintln(os.Stderr, "                                 Start a chat by phone number")
	fmt.Fprintln(os.Stderr, "  contacts                       List contacts")
	fmt.Fprintln(os.Stderr, "  read-all                       Mark every chat read")
	fmt.Fprintln(os.Stderr, "  typing                         Signal typing in the active chat")
	fmt.Fprintln(os.Stderr, "  watch [namespace]              Stream events (e.g. store., conn.)")
}

// check exits with the server's message when err is set.
func check(err error) {
	if err == nil {
		return
	}
	if st, ok := grpcstatus.FromError(err); ok {
		fmt.Fprintf(os.Stderr, "error: %s (%s)\n", st.Message(), st.Code())
	} else {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
	}
	os.Exit(1)
}

// arg returns args[i] or exits with usage.
func arg(args []string, i int, usage string) string {
	if len(args) <= i {
		fmt.Fprintf(os.Stderr, "usage: chatsyncctl %s\n", usage)
		os.Exit(1)
	}
	return args[i]
}

func outputJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		fmt.Fprintf(os.Stderr, "json encode error: %v\n", err)
	}
}
