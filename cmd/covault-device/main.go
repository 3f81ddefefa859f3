package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/bobmcallan/covault/internal/client"
	"github.com/bobmcallan/covault/internal/common"
)

func usage() {
	fmt.Fprintf(os.Stderr, `covault-device: second-device access to a shared vault

Usage:
  covault-device login  --server URL --username U --password P --owner EMAIL --token TOKEN [--device NAME]
  covault-device status
  covault-device wait
  covault-device ls
  covault-device get FILE_ID [-o PATH]
  covault-device watch
  covault-device logout
`)
	os.Exit(2)
}

func main() {
	if len(os.Args) < 2 {
		usage()
	}

	logger := common.NewLogger(os.Getenv("COVAULT_LOG_LEVEL"))

	statePath, err := client.StatePath()
	if err != nil {
		fatal(err)
	}
	state, err := client.LoadState(statePath)
	if err != nil {
		fatal(err)
	}

	switch os.Args[1] {
	case "login":
		cmdLogin(logger, statePath, state, os.Args[2:])
	case "status":
		cmdStatus(logger, statePath, state)
	case "wait":
		cmdWait(logger, statePath, state)
	case "ls":
		cmdList(logger, state)
	case "get":
		cmdGet(logger, state, os.Args[2:])
	case "watch":
		cmdWatch(logger, state)
	case "logout":
		cmdLogout(logger, statePath, state)
	default:
		usage()
	}
}

func fatal(err error) {
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	os.Exit(1)
}

// deviceAPI builds an API client carrying the stored device token.
func deviceAPI(state *client.State, logger *common.Logger) *client.API {
	if state.ServerURL == "" || state.DeviceToken == "" {
		fatal(fmt.Errorf("no device session, run 'covault-device login' first"))
	}
	api := client.NewAPI(state.ServerURL, logger)
	api.SetToken(state.DeviceToken)
	return api
}

func cmdLogin(logger *common.Logger, statePath string, state *client.State, args []string) {
	fs := flag.NewFlagSet("login", flag.ExitOnError)
	server := fs.String("server", state.ServerURL, "server base URL")
	username := fs.String("username", state.Username, "account username")
	password := fs.String("password", "", "account password")
	owner := fs.String("owner", "", "vault owner's email")
	token := fs.String("token", "", "owner's share token")
	device := fs.String("device", hostname(), "device name shown to the owner")
	fs.Parse(args)

	if *server == "" || *username == "" || *password == "" || *owner == "" || *token == "" {
		fatal(fmt.Errorf("--server, --username, --password, --owner and --token are required"))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	api := client.NewAPI(*server, logger)

	sessionToken, err := api.Login(ctx, *username, *password)
	if err != nil {
		fatal(err)
	}
	api.SetToken(sessionToken)

	session, err := api.DeviceLogin(ctx, *owner, *token, *device)
	if err != nil {
		fatal(err)
	}

	state.ServerURL = *server
	state.Username = *username
	state.SessionToken = sessionToken
	state.DeviceToken = session.DeviceToken
	state.GrantID = session.GrantID
	state.OwnerEmail = *owner
	state.GrantState = session.State
	if err := client.SaveState(statePath, state); err != nil {
		fatal(err)
	}

	fmt.Printf("Access requested from %s (grant %s).\n", *owner, session.GrantID)
	fmt.Println("Waiting for the owner to approve. Run 'covault-device wait' to be notified.")
}

func cmdStatus(logger *common.Logger, statePath string, state *client.State) {
	api := deviceAPI(state, logger)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	status, err := api.Status(ctx)
	if err != nil {
		if client.IsNotFound(err) {
			state.ClearGrant()
			client.SaveState(statePath, state)
			fmt.Println("Access has been revoked or rejected.")
			os.Exit(1)
		}
		fatal(err)
	}

	if status.DeviceToken != "" {
		state.DeviceToken = status.DeviceToken
	}
	state.GrantState = status.State
	client.SaveState(statePath, state)

	fmt.Printf("Grant %s: %s (owner %s)\n", status.GrantID, status.State, status.OwnerEmail)
}

func cmdWait(logger *common.Logger, statePath string, state *client.State) {
	api := deviceAPI(state, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	done := make(chan string, 1)

	poller := client.NewPoller(api, client.DefaultPollInterval, logger)
	poller.OnChange = func(newState string) {
		switch newState {
		case "approved":
			done <- newState
		case "revoked":
			done <- newState
		default:
			fmt.Printf("Grant state: %s\n", newState)
		}
	}
	poller.Start(ctx)
	defer poller.Stop()

	fmt.Println("Waiting for owner approval (Ctrl-C to stop)...")

	select {
	case <-sigChan:
		fmt.Println("Stopped.")
	case result := <-done:
		if result == "approved" {
			state.GrantState = "approved"
			client.SaveState(statePath, state)
			fmt.Println("Approved. Run 'covault-device ls' to browse the shared vault.")
		} else {
			state.ClearGrant()
			client.SaveState(statePath, state)
			fmt.Println("Access has been revoked or rejected.")
			os.Exit(1)
		}
	}
}

func cmdList(logger *common.Logger, state *client.State) {
	api := deviceAPI(state, logger)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	folders, err := api.Vault(ctx)
	if err != nil {
		fatal(err)
	}

	if len(folders) == 0 {
		fmt.Println("No folders are currently shared.")
		return
	}
	for _, folder := range folders {
		fmt.Printf("%s/ (%s)\n", folder.Name, folder.FolderID)
		for _, file := range folder.Files {
			fmt.Printf("  %-40s %10d  %s\n", file.Name, file.Size, file.FileID)
		}
	}
}

func cmdGet(logger *common.Logger, state *client.State, args []string) {
	fs := flag.NewFlagSet("get", flag.ExitOnError)
	out := fs.String("o", "", "output path (default: file ID in current directory)")
	fs.Parse(args)

	if fs.NArg() < 1 {
		fatal(fmt.Errorf("file ID is required"))
	}
	fileID := fs.Arg(0)

	api := deviceAPI(state, logger)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()

	body, err := api.FetchFile(ctx, fileID)
	if err != nil {
		fatal(err)
	}
	defer body.Close()

	target := *out
	if target == "" {
		target = fileID
	}
	f, err := os.Create(target)
	if err != nil {
		fatal(err)
	}
	defer f.Close()

	n, err := io.Copy(f, body)
	if err != nil {
		fatal(err)
	}
	fmt.Printf("Wrote %d bytes to %s\n", n, target)
}

// cmdWatch is the owner-side loop: it follows the account's device grants
// with the primary session and prints new requests as they arrive.
func cmdWatch(logger *common.Logger, state *client.State) {
	if state.ServerURL == "" || state.SessionToken == "" {
		fatal(fmt.Errorf("no session, run 'covault-device login' first"))
	}
	api := client.NewAPI(state.ServerURL, logger)
	api.SetToken(state.SessionToken)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	heartbeat := client.NewHeartbeat(api, client.DefaultHeartbeatInterval, logger)
	heartbeat.OnChange = func(grants []client.GrantSummary) {
		if len(grants) == 0 {
			fmt.Println("No devices hold access.")
			return
		}
		for _, g := range grants {
			fmt.Printf("%-8s %s from %s (%s) requested %s\n",
				g.State, g.GrantID, g.Device, g.Origin, g.RequestedAt.Format(time.RFC3339))
		}
	}
	heartbeat.Start(ctx)
	defer heartbeat.Stop()

	fmt.Println("Watching device access requests (Ctrl-C to stop)...")
	<-sigChan
	fmt.Println("Stopped.")
}

func cmdLogout(logger *common.Logger, statePath string, state *client.State) {
	if state.ServerURL != "" && (state.DeviceToken != "" || state.SessionToken != "") {
		api := client.NewAPI(state.ServerURL, logger)
		token := state.DeviceToken
		if token == "" {
			token = state.SessionToken
		}
		api.SetToken(token)

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := api.Logout(ctx); err != nil && !client.IsNotFound(err) {
			logger.Warn().Err(err).Msg("Server-side logout failed")
		}
	}

	state.ClearGrant()
	state.SessionToken = ""
	if err := client.SaveState(statePath, state); err != nil {
		fatal(err)
	}
	fmt.Println("Logged out.")
}

func hostname() string {
	name, err := os.Hostname()
	if err != nil {
		return "unknown-device"
	}
	return name
}
