package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/matheus3301/chatsync/internal/api"
	"github.com/matheus3301/chatsync/internal/transport/wire"
	"google.golang.org/grpc/codes"
	grpcstatus "google.golang.org/grpc/status"
)

type cli struct {
	c    *api.Client
	json bool
}

func (c *cli) status(ctx context.Context) {
	resp, err := c.c.Status(ctx)
	check(err)
	if c.json {
		outputJSON(resp)
		return
	}
	fmt.Printf("Profile: %s\n", resp.Profile)
	fmt.Printf("User:    %s\n", resp.UserID)
	fmt.Printf("Status:  %s\n", resp.Status)
	fmt.Printf("Uptime:  %dms\n", resp.UptimeMS)
}

func (c *cli) snapshot(ctx context.Context) {
	resp, err := c.c.Snapshot(ctx)
	check(err)
	if c.json {
		outputJSON(resp)
		return
	}
	fmt.Printf("Status:  %s\n", resp.Status)
	fmt.Printf("Active:  %s\n", orDash(resp.ActiveChatID))
	fmt.Printf("Loading: %v  Sending: %v\n", resp.Loading, resp.Sending)
	if resp.LastError != "" {
		fmt.Printf("Error:   %s\n", resp.LastError)
	}
	fmt.Println()
	printChats(resp.Chats)
	if resp.ActiveChatID != "" {
		fmt.Println()
		printMessages(resp.Messages)
	}
	for chatID, users := range resp.Typing {
		fmt.Printf("typing in %s: %s\n", chatID, strings.Join(users, ", "))
	}
}

func (c *cli) chats(ctx context.Context) {
	resp, err := c.c.Snapshot(ctx)
	check(err)
	if c.json {
		outputJSON(resp.Chats)
		return
	}
	printChats(resp.Chats)
}

func (c *cli) refresh(ctx context.Context) {
	check(c.c.RefreshChats(ctx))
	c.chats(ctx)
}

func (c *cli) messages(ctx context.Context) {
	resp, err := c.c.Snapshot(ctx)
	check(err)
	if resp.ActiveChatID == "" {
		fmt.Fprintln(os.Stderr, "no active chat; use: chatsyncctl select <chatId>")
		os.Exit(1)
	}
	if c.json {
		outputJSON(resp.Messages)
		return
	}
	printMessages(resp.Messages)
}

// selectChat focuses a chat and waits for its history to load.
func (c *cli) selectChat(ctx context.Context, args []string) {
	chatID := arg(args, 0, "select <chatId>")
	check(c.c.SelectChat(ctx, chatID))
	for {
		resp, err := c.c.Snapshot(ctx)
		check(err)
		if !resp.Loading || resp.ActiveChatID != chatID {
			if c.json {
				outputJSON(resp.Messages)
				return
			}
			printMessages(resp.Messages)
			return
		}
		select {
		case <-ctx.Done():
			check(ctx.Err())
		case <-time.After(50 * time.Millisecond):
		}
	}
}

func (c *cli) send(ctx context.Context, args []string) {
	fs := flag.NewFlagSet("send", flag.ExitOnError)
	chatID := fs.String("chat", "", "chat id (default: active chat)")
	phone := fs.String("phone", "", "receiver phone (default: the chat's peer)")
	kind := fs.String("type", "", "message type (default: text)")
	_ = fs.Parse(args)

	m, err := c.c.SendMessage(ctx, api.SendArgs{
		ChatID:        *chatID,
		ReceiverPhone: *phone,
		Content:       strings.Join(fs.Args(), " "),
		Type:          *kind,
	})
	check(err)
	c.printResult(m, "Sent %v\n", "_id")
}

func (c *cli) edit(ctx context.Context, args []string) {
	id := arg(args, 0, "edit <messageId> <text>")
	m, err := c.c.EditMessage(ctx, id, strings.Join(args[1:], " "))
	check(err)
	c.printResult(m, "Edited %v\n", "_id")
}

func (c *cli) create(ctx context.Context, args []string) {
	fs := flag.NewFlagSet("create", flag.ExitOnError)
	name := fs.String("name", "", "contact name")
	isNew := fs.Bool("new", false, "save the number as a new contact")
	_ = fs.Parse(args)

	chat, err := c.c.CreateChat(ctx, api.CreateChatArgs{
		Name:         *name,
		Phone:        arg(fs.Args(), 0, "create [-name n] [-new] <phone>"),
		IsNewContact: *isNew,
	})
	check(err)
	c.printResult(chat, "Chat %v\n", "chatId")
}

func (c *cli) contacts(ctx context.Context) {
	resp, err := c.c.FetchContacts(ctx)
	check(err)
	if c.json {
		outputJSON(resp)
		return
	}
	if len(resp.Contacts) == 0 {
		fmt.Println("No contacts.")
		return
	}
	for _, ct := range resp.Contacts {
		fmt.Printf("%-24s %-12s %s\n", ct.Name, ct.Phone, ct.ID)
	}
}

func (c *cli) readAll(ctx context.Context) {
	resp, err := c.c.MarkAllRead(ctx)
	check(err)
	if c.json {
		outputJSON(resp)
		return
	}
	fmt.Printf("Marked %d chat(s) read\n", len(resp.ChatIDs))
}

func (c *cli) printResult(v map[string]any, format, key string) {
	if c.json {
		outputJSON(v)
		return
	}
	fmt.Printf(format, v[key])
}

// cmdWatch streams events until interrupted.
func cmdWatch(ctx context.Context, c *api.Client, args []string, jsonOut bool) {
	namespace := ""
	if len(args) > 0 {
		namespace = args[0]
	}
	err := c.Watch(ctx, namespace, func(evt api.EventReply) error {
		if jsonOut {
			outputJSON(evt)
			return nil
		}
		fmt.Printf("%s %-20s %v\n", evt.Timestamp.Format(time.TimeOnly), evt.Kind, evt.Payload)
		return nil
	})
	if errors.Is(ctx.Err(), context.Canceled) || grpcstatus.Code(err) == codes.Canceled {
		return
	}
	check(err)
}

func printChats(chats []wire.Chat) {
	if len(chats) == 0 {
		fmt.Println("No chats.")
		return
	}
	for _, ch := range chats {
		online := " "
		if ch.User.IsOnline {
			online = "*"
		}
		unread := ""
		if ch.UnreadCount > 0 {
			unread = fmt.Sprintf("(%d)", ch.UnreadCount)
		}
		fmt.Printf("%s %-24s %-5s %-40s %s\n", online, ch.User.Name, unread, truncate(ch.LastMessage, 40), ch.ChatID)
	}
}

func printMessages(messages []wire.Message) {
	if len(messages) == 0 {
		fmt.Println("No messages.")
		return
	}
	for _, m := range messages {
		at := ""
		if m.CreatedAt != nil {
			at = m.CreatedAt.Local().Format("15:04")
		}
		flags := ""
		if m.IsEdited {
			flags += " (edited)"
		}
		if m.Status != "" {
			flags += " [" + m.Status + "]"
		}
		fmt.Printf("%s %-12s %s%s  %s\n", at, truncate(m.Sender, 12), m.Content, flags, m.ID)
	}
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
