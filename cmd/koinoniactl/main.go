package main

import (
	"bufio"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gmcamargo/koinonia/internal/api"
	"github.com/gmcamargo/koinonia/internal/ctl"
	"github.com/gmcamargo/koinonia/internal/feed"
	"github.com/gmcamargo/koinonia/internal/session"
)

func main() {
	sessionFlag := flag.String("session", "", "session name (overrides config default)")
	jsonFlag := flag.Bool("json", false, "output in JSON format")
	yesFlag := flag.Bool("yes", false, "skip confirmation prompts")
	flag.Parse()

	sessionName := session.Resolve(*sessionFlag)
	if err := session.ValidateName(sessionName); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	args := flag.Args()
	if len(args) == 0 {
		printUsage()
		os.Exit(1)
	}

	if args[0] == "login" {
		cmdLogin(sessionName, args[1:])
		return
	}

	c := ctl.New(session.SocketPath(sessionName))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	switch args[0] {
	case "status":
		cmdStatus(ctx, c, *jsonFlag)
	case "open":
		if len(args) < 2 {
			fmt.Fprintln(os.Stderr, "usage: koinoniactl open <room-id>")
			os.Exit(1)
		}
		cmdOpen(ctx, c, args[1])
	case "messages":
		cmdMessages(ctx, c, *jsonFlag)
	case "send":
		if len(args) < 2 {
			fmt.Fprintln(os.Stderr, "usage: koinoniactl send <text>")
			os.Exit(1)
		}
		cmdSend(ctx, c, strings.Join(args[1:], " "))
	case "older":
		cmdOlder(ctx, c)
	case "refresh":
		cmdRefresh(ctx, c)
	case "leave":
		cmdLeave(ctx, c, *yesFlag)
	case "watch":
		cmdWatch(c, *jsonFlag)
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", args[0])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Fprintln(os.Stderr, "usage: koinoniactl [--session <name>] [--json] [--yes] <command>")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "commands:")
	fmt.Fprintln(os.Stderr, "  login <token>    Store the access token for this session")
	fmt.Fprintln(os.Stderr, "  status           Show the open room and membership")
	fmt.Fprintln(os.Stderr, "  open <room-id>   Open a ministry room")
	fmt.Fprintln(os.Stderr, "  messages         Print the current message feed")
	fmt.Fprintln(os.Stderr, "  send <text>      Send a message to the open room")
	fmt.Fprintln(os.Stderr, "  older            Load an older page of messages")
	fmt.Fprintln(os.Stderr, "  refresh          Re-verify room membership")
	fmt.Fprintln(os.Stderr, "  leave            Leave the open room")
	fmt.Fprintln(os.Stderr, "  watch            Stream daemon events")
}

func fatal(err error) {
	fmt.Fprintf(os.Stderr, "error: %v\n", err)
	os.Exit(1)
}

func cmdLogin(sessionName string, args []string) {
	if len(args) < 1 {
		fmt.Fprintln(os.Stderr, "usage: koinoniactl login <token>")
		os.Exit(1)
	}
	token := args[0]
	id, err := session.ParseIdentity(token)
	if err != nil {
		fatal(err)
	}
	if id.Expired(time.Now()) {
		fatal(fmt.Errorf("token is already expired"))
	}
	if err := session.EnsureDir(sessionName); err != nil {
		fatal(err)
	}
	if err := session.SaveToken(sessionName, token); err != nil {
		fatal(err)
	}
	fmt.Printf("Token stored for user %s. Restart koinoniad to pick it up.\n", id.UserID)
}

func cmdStatus(ctx context.Context, c *ctl.Client, jsonOut bool) {
	snap, err := c.Room(ctx)
	if err != nil {
		fatal(err)
	}
	if jsonOut {
		outputJSON(snap)
		return
	}
	if snap.RoomID == "" {
		fmt.Println("No room open.")
		return
	}
	member := "no"
	if snap.IsMember {
		member = "yes"
	}
	fmt.Printf("Room:    %s (%s)\n", snap.Room.Name, snap.RoomID)
	if snap.Room.Description != "" {
		fmt.Printf("About:   %s\n", snap.Room.Description)
	}
	fmt.Printf("Members: %d\n", snap.Room.MemberCount)
	fmt.Printf("Member:  %s\n", member)
	fmt.Printf("State:   %s\n", snap.State)
	if snap.Error != "" {
		fmt.Printf("Error:   %s\n", snap.Error)
	}
}

func cmdOpen(ctx context.Context, c *ctl.Client, roomID string) {
	if err := c.OpenRoom(ctx, roomID); err != nil {
		fatal(err)
	}
	fmt.Printf("Opened room %s.\n", roomID)
}

func cmdMessages(ctx context.Context, c *ctl.Client, jsonOut bool) {
	snap, err := c.Messages(ctx)
	if err != nil {
		fatal(err)
	}
	if jsonOut {
		outputJSON(snap)
		return
	}
	if snap.RoomID == "" {
		fmt.Println("No room open.")
		return
	}
	for _, m := range snap.Messages {
		ts := time.UnixMilli(m.SentAt).Local().Format("15:04")
		name := m.Author.Name
		if name == "" {
			name = m.AuthorID
		}
		marker := ""
		switch m.Status {
		case feed.StatusSending:
			marker = " [sending]"
		case feed.StatusError:
			marker = " [failed]"
		}
		fmt.Printf("%s %-20s %s%s\n", ts, name, m.Body, marker)
	}
	if snap.AllLoaded {
		fmt.Println("-- beginning of history --")
	}
}

func cmdSend(ctx context.Context, c *ctl.Client, text string) {
	if err := c.Send(ctx, text); err != nil {
		fatal(err)
	}
	fmt.Println("Sent.")
}

func cmdOlder(ctx context.Context, c *ctl.Client) {
	if err := c.LoadOlder(ctx); err != nil {
		fatal(err)
	}
	fmt.Println("Loading older messages.")
}

func cmdRefresh(ctx context.Context, c *ctl.Client) {
	if err := c.RefreshMembership(ctx); err != nil {
		fatal(err)
	}
	fmt.Println("Membership refreshed.")
}

func cmdLeave(ctx context.Context, c *ctl.Client, yes bool) {
	snap, err := c.Room(ctx)
	if err != nil {
		fatal(err)
	}
	if snap.RoomID == "" {
		fatal(fmt.Errorf("no room open"))
	}
	if !yes {
		fmt.Printf("Leave %q? You will stop receiving its messages. [y/N] ", snap.Room.Name)
		line, _ := bufio.NewReader(os.Stdin).ReadString('\n')
		answer := strings.ToLower(strings.TrimSpace(line))
		if answer != "y" && answer != "yes" {
			fmt.Println("Aborted.")
			return
		}
	}
	if err := c.Leave(ctx); err != nil {
		fatal(err)
	}
	fmt.Println("Left the room.")
}

func cmdWatch(c *ctl.Client, jsonOut bool) {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err := c.Watch(ctx, "", func(env api.EventEnvelope) {
		if jsonOut {
			outputJSON(env)
			return
		}
		ts := time.UnixMilli(env.OccurredAtUnixMs).Local().Format("15:04:05")
		fmt.Printf("%s %s\n", ts, env.Kind)
	})
	if err != nil {
		fatal(err)
	}
}

func outputJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		fmt.Fprintf(os.Stderr, "json encode error: %v\n", err)
	}
}
