package main

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/matheus3301/chatsync/internal/api"
)

func cmdStart(profileName, socketPath string) {
	if probeDaemon(socketPath) {
		fmt.Printf("daemon already running for profile %q\n", profileName)
		return
	}
	fmt.Fprintf(os.Stderr, "daemon not running for profile %q, starting...\n", profileName)
	if err := startDaemon(profileName); err != nil {
		fmt.Fprintf(os.Stderr, "failed to start daemon: %v\n", err)
		os.Exit(1)
	}
	if !waitForDaemon(socketPath, 10*time.Second) {
		fmt.Fprintln(os.Stderr, "daemon did not become ready")
		os.Exit(1)
	}
	fmt.Println("daemon ready")
}

// probeDaemon checks if a daemon is running and responsive on the socket.
func probeDaemon(socketPath string) bool {
	c, err := api.Dial(socketPath)
	if err != nil {
		return false
	}
	defer func() { _ = c.Close() }()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	_, err = c.Status(ctx)
	return err == nil
}

func startDaemon(profileName string) error {
	executable, err := os.Executable()
	if err != nil {
		return err
	}
	daemon := filepath.Join(filepath.Dir(executable), "chatsyncd")

	if _, err := os.Stat(daemon); err != nil {
		daemon = "chatsyncd"
	}

	cmd := exec.Command(daemon, "--profile", profileName)
	// Inherit stderr so daemon startup errors are visible.
	cmd.Stderr = os.Stderr
	return cmd.Start()
}

// waitForDaemon polls the daemon with a real gRPC status call (not just socket connect).
func waitForDaemon(socketPath string, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if probeDaemon(socketPath) {
			return true
		}
		time.Sleep(300 * time.Millisecond)
	}
	return false
}
