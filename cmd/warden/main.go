package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
)

func main() {
	if err := buildRoot().Execute(); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// GlobalFlags holds the persistent flags shared by every subcommand.
type GlobalFlags struct {
	ConfigPath string
}

// buildRoot assembles the warden CLI.
func buildRoot() *cobra.Command {
	globalFlags := &GlobalFlags{}
	processFlags := &ProcessFlags{}
	statusFlags := &StatusFlags{}
	sendFlags := &SendFlags{}
	historyFlags := &HistoryFlags{}
	registerFlags := &RegisterFlags{}
	tokenFlags := &TokenFlags{}

	wardenCommand := command{globals: globalFlags}

	root := createRootCommand(globalFlags)
	root.AddCommand(
		createRegisterCommand(wardenCommand, registerFlags),
		createUnregisterCommand(wardenCommand, processFlags),
		createStartCommand(wardenCommand, processFlags),
		createStopCommand(wardenCommand, processFlags),
		createRestartCommand(wardenCommand, processFlags),
		createStatusCommand(wardenCommand, statusFlags),
		createSendCommand(wardenCommand, sendFlags),
		createOutputCommand(wardenCommand, processFlags),
		createHistoryCommand(wardenCommand, historyFlags),
		createTokenCommand(wardenCommand, tokenFlags),
		createServeCommand(globalFlags),
	)
	return root
}

// createRootCommand creates the root command with minimal persistent flags
func createRootCommand(flags *GlobalFlags) *cobra.Command {
	root := &cobra.Command{
		Use:   "warden",
		Short: "Game server process supervisor",
		Long: `Warden supervises long-running game server processes: it launches
them, captures their console output, delivers commands to their stdin
and shuts them down cleanly.

Instances are managed by the warden daemon; every other command talks
to it over the HTTP API.

Examples:
  warden serve --config=warden.toml      # Start the daemon
  warden status                          # Show all instances
  warden start --name=smp                # Start a registered instance
  warden send --name=smp --command="say restarting in 5 minutes"`,
	}

	root.PersistentFlags().StringVar(&flags.ConfigPath, "config", "", "path to TOML config file (optional)")

	return root
}

// createRegisterCommand creates the register subcommand
func createRegisterCommand(wardenCommand command, registerFlags *RegisterFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "register",
		Short: "Register an instance definition",
		Long: `Register an instance definition with the daemon so it can be
started by name. Registering does not launch the process.

Examples:
  warden register --name=smp --program=/usr/bin/java --args="-Xmx8G,-jar,server.jar,nogui" --dir=/srv/smp
  warden register --name=echo --program=/bin/sh --args="-c,cat" --stop-command=""`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return wardenCommand.Register(*registerFlags)
		},
	}

	cmd.Flags().StringVar(&registerFlags.Name, "name", "", "instance name (required)")
	cmd.Flags().StringVar(&registerFlags.Program, "program", "", "program to launch (required)")
	cmd.Flags().StringSliceVar(&registerFlags.Args, "args", nil, "program arguments")
	cmd.Flags().StringVar(&registerFlags.Dir, "dir", "", "working directory (absolute)")
	cmd.Flags().StringSliceVar(&registerFlags.Env, "env", nil, "extra KEY=VALUE environment entries")
	cmd.Flags().StringVar(&registerFlags.StopCommand, "stop-command", "", "console command for graceful shutdown")
	cmd.Flags().DurationVar(&registerFlags.StartupGrace, "startup-grace", 0, "early-crash detection window")
	cmd.Flags().DurationVar(&registerFlags.StopTimeout, "stop-timeout", 0, "wait after the stop command before SIGTERM")
	cmd.Flags().DurationVar(&registerFlags.TermTimeout, "term-timeout", 0, "wait after SIGTERM before SIGKILL")
	cmd.Flags().IntVar(&registerFlags.BufferLines, "buffer-lines", 0, "console ring buffer capacity")
	cmd.Flags().StringVar(&registerFlags.ConsoleLog, "console-log", "", "console log file path (absolute)")
	cmd.Flags().StringVar(&registerFlags.Signature, "signature", "", "workload detection signature")
	cmd.Flags().StringSliceVar(&registerFlags.Markers, "markers", nil, "workload command line markers")

	// Remote daemon connection
	cmd.Flags().StringVar(&registerFlags.APIUrl, "api-url", "", "daemon URL (default http://127.0.0.1:8420)")
	cmd.Flags().DurationVar(&registerFlags.APITimeout, "api-timeout", 10*time.Second, "request timeout")
	cmd.Flags().StringVar(&registerFlags.Token, "token", "", "bearer token (defaults to $WARDEN_TOKEN)")
	cmd.Flags().StringVar(&registerFlags.CACert, "ca-cert", "", "certificate to trust for https daemons (defaults to $WARDEN_CA_CERT)")

	if err := cmd.MarkFlagRequired("name"); err != nil {
		panic(err)
	}
	if err := cmd.MarkFlagRequired("program"); err != nil {
		panic(err)
	}

	return cmd
}

// createUnregisterCommand creates the unregister subcommand
func createUnregisterCommand(wardenCommand command, processFlags *ProcessFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "unregister",
		Short: "Remove an instance definition",
		Long: `Remove an instance definition from the daemon. A running instance
is stopped first.

Examples:
  warden unregister --name=smp
  warden unregister --name=smp --api-url=http://remote:8420`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return wardenCommand.Unregister(*processFlags)
		},
	}

	cmd.Flags().StringVar(&processFlags.Name, "name", "", "instance name (required)")

	// Remote daemon connection
	cmd.Flags().StringVar(&processFlags.APIUrl, "api-url", "", "daemon URL (default http://127.0.0.1:8420)")
	cmd.Flags().DurationVar(&processFlags.APITimeout, "api-timeout", 30*time.Second, "request timeout")
	cmd.Flags().StringVar(&processFlags.Token, "token", "", "bearer token (defaults to $WARDEN_TOKEN)")
	cmd.Flags().StringVar(&processFlags.CACert, "ca-cert", "", "certificate to trust for https daemons (defaults to $WARDEN_CA_CERT)")

	if err := cmd.MarkFlagRequired("name"); err != nil {
		panic(err)
	}

	return cmd
}

// createStartCommand creates the start subcommand
func createStartCommand(wardenCommand command, processFlags *ProcessFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "start",
		Short: "Start an instance",
		Long: `Start a registered instance by name. The daemon watches the process
through its startup grace window, so an immediate crash is reported
here together with the captured console output.

Examples:
  warden start --name=smp
  warden start --name=smp --api-url=http://remote:8420`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return wardenCommand.Start(*processFlags)
		},
	}

	cmd.Flags().StringVar(&processFlags.Name, "name", "", "instance name (required)")

	// Remote daemon connection
	cmd.Flags().StringVar(&processFlags.APIUrl, "api-url", "", "daemon URL (default http://127.0.0.1:8420)")
	cmd.Flags().DurationVar(&processFlags.APITimeout, "api-timeout", 30*time.Second, "request timeout")
	cmd.Flags().StringVar(&processFlags.Token, "token", "", "bearer token (defaults to $WARDEN_TOKEN)")
	cmd.Flags().StringVar(&processFlags.CACert, "ca-cert", "", "certificate to trust for https daemons (defaults to $WARDEN_CA_CERT)")

	if err := cmd.MarkFlagRequired("name"); err != nil {
		panic(err)
	}

	return cmd
}

// createStopCommand creates the stop subcommand
func createStopCommand(wardenCommand command, processFlags *ProcessFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stop",
		Short: "Stop an instance",
		Long: `Stop a running instance. The daemon sends the configured stop
command to the console first and escalates to SIGTERM and SIGKILL
only if the process does not exit in time. The call returns once the
process is gone, so allow for the instance's stop timeouts.

Examples:
  warden stop --name=smp
  warden stop --name=smp --api-timeout=2m`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return wardenCommand.Stop(*processFlags)
		},
	}

	cmd.Flags().StringVar(&processFlags.Name, "name", "", "instance name (required)")

	// Remote daemon connection
	cmd.Flags().StringVar(&processFlags.APIUrl, "api-url", "", "daemon URL (default http://127.0.0.1:8420)")
	cmd.Flags().DurationVar(&processFlags.APITimeout, "api-timeout", 30*time.Second, "request timeout")
	cmd.Flags().StringVar(&processFlags.Token, "token", "", "bearer token (defaults to $WARDEN_TOKEN)")
	cmd.Flags().StringVar(&processFlags.CACert, "ca-cert", "", "certificate to trust for https daemons (defaults to $WARDEN_CA_CERT)")

	if err := cmd.MarkFlagRequired("name"); err != nil {
		panic(err)
	}

	return cmd
}

// createRestartCommand creates the restart subcommand
func createRestartCommand(wardenCommand command, processFlags *ProcessFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "restart",
		Short: "Restart an instance",
		Long: `Stop an instance if it is running, then start it again from its
registered definition.

Examples:
  warden restart --name=smp`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return wardenCommand.Restart(*processFlags)
		},
	}

	cmd.Flags().StringVar(&processFlags.Name, "name", "", "instance name (required)")

	// Remote daemon connection
	cmd.Flags().StringVar(&processFlags.APIUrl, "api-url", "", "daemon URL (default http://127.0.0.1:8420)")
	cmd.Flags().DurationVar(&processFlags.APITimeout, "api-timeout", 30*time.Second, "request timeout")
	cmd.Flags().StringVar(&processFlags.Token, "token", "", "bearer token (defaults to $WARDEN_TOKEN)")
	cmd.Flags().StringVar(&processFlags.CACert, "ca-cert", "", "certificate to trust for https daemons (defaults to $WARDEN_CA_CERT)")

	if err := cmd.MarkFlagRequired("name"); err != nil {
		panic(err)
	}

	return cmd
}

// createStatusCommand creates the status subcommand
func createStatusCommand(wardenCommand command, statusFlags *StatusFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show instance status",
		Long: `Show the status of instances managed by the daemon, including PID,
uptime and resource usage of the detected workload process.

Examples:
  warden status                     # Show all instances
  warden status --name=smp          # Show one instance
  warden status --api-url=http://remote:8420`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return wardenCommand.Status(*statusFlags)
		},
	}

	cmd.Flags().StringVar(&statusFlags.Name, "name", "", "instance name (optional)")

	// Remote daemon connection
	cmd.Flags().StringVar(&statusFlags.APIUrl, "api-url", "", "daemon URL (default http://127.0.0.1:8420)")
	cmd.Flags().DurationVar(&statusFlags.APITimeout, "api-timeout", 30*time.Second, "request timeout")
	cmd.Flags().StringVar(&statusFlags.Token, "token", "", "bearer token (defaults to $WARDEN_TOKEN)")
	cmd.Flags().StringVar(&statusFlags.CACert, "ca-cert", "", "certificate to trust for https daemons (defaults to $WARDEN_CA_CERT)")

	return cmd
}

// createSendCommand creates the send subcommand
func createSendCommand(wardenCommand command, sendFlags *SendFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "send",
		Short: "Send a console command to an instance",
		Long: `Write a command line to a running instance's stdin, exactly as if
typed into its console.

Examples:
  warden send --name=smp --command="save-all"
  warden send --name=smp --command="say restarting in 5 minutes"`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return wardenCommand.Send(*sendFlags)
		},
	}

	cmd.Flags().StringVar(&sendFlags.Name, "name", "", "instance name (required)")
	cmd.Flags().StringVar(&sendFlags.Command, "command", "", "console command (required)")

	// Remote daemon connection
	cmd.Flags().StringVar(&sendFlags.APIUrl, "api-url", "", "daemon URL (default http://127.0.0.1:8420)")
	cmd.Flags().DurationVar(&sendFlags.APITimeout, "api-timeout", 10*time.Second, "request timeout")
	cmd.Flags().StringVar(&sendFlags.Token, "token", "", "bearer token (defaults to $WARDEN_TOKEN)")
	cmd.Flags().StringVar(&sendFlags.CACert, "ca-cert", "", "certificate to trust for https daemons (defaults to $WARDEN_CA_CERT)")

	if err := cmd.MarkFlagRequired("name"); err != nil {
		panic(err)
	}
	if err := cmd.MarkFlagRequired("command"); err != nil {
		panic(err)
	}

	return cmd
}

// createOutputCommand creates the output subcommand
func createOutputCommand(wardenCommand command, processFlags *ProcessFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "output",
		Short: "Print recent console output",
		Long: `Print the instance's buffered console output, oldest line first.
The buffer holds the most recent lines only; use a console log file
for full retention.

Examples:
  warden output --name=smp
  warden output --name=smp | tail -20`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return wardenCommand.Output(*processFlags)
		},
	}

	cmd.Flags().StringVar(&processFlags.Name, "name", "", "instance name (required)")

	// Remote daemon connection
	cmd.Flags().StringVar(&processFlags.APIUrl, "api-url", "", "daemon URL (default http://127.0.0.1:8420)")
	cmd.Flags().DurationVar(&processFlags.APITimeout, "api-timeout", 30*time.Second, "request timeout")
	cmd.Flags().StringVar(&processFlags.Token, "token", "", "bearer token (defaults to $WARDEN_TOKEN)")
	cmd.Flags().StringVar(&processFlags.CACert, "ca-cert", "", "certificate to trust for https daemons (defaults to $WARDEN_CA_CERT)")

	if err := cmd.MarkFlagRequired("name"); err != nil {
		panic(err)
	}

	return cmd
}

// createHistoryCommand creates the history subcommand
func createHistoryCommand(wardenCommand command, historyFlags *HistoryFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show lifecycle events",
		Long: `Show recorded lifecycle events (starts, exits, launch failures),
newest first. Requires a history store in the daemon config.

Examples:
  warden history                    # All instances
  warden history --name=smp --limit=20`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return wardenCommand.History(*historyFlags)
		},
	}

	cmd.Flags().StringVar(&historyFlags.Name, "name", "", "instance name (optional)")
	cmd.Flags().IntVar(&historyFlags.Limit, "limit", 50, "maximum events to return")

	// Remote daemon connection
	cmd.Flags().StringVar(&historyFlags.APIUrl, "api-url", "", "daemon URL (default http://127.0.0.1:8420)")
	cmd.Flags().DurationVar(&historyFlags.APITimeout, "api-timeout", 30*time.Second, "request timeout")
	cmd.Flags().StringVar(&historyFlags.Token, "token", "", "bearer token (defaults to $WARDEN_TOKEN)")
	cmd.Flags().StringVar(&historyFlags.CACert, "ca-cert", "", "certificate to trust for https daemons (defaults to $WARDEN_CA_CERT)")

	return cmd
}

// createTokenCommand creates the token subcommand
func createTokenCommand(wardenCommand command, tokenFlags *TokenFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Token management commands",
	}

	create := &cobra.Command{
		Use:   "create",
		Short: "Mint an API bearer token",
		Long: `Mint a bearer token signed with the auth secret from the config
file. Runs locally, so it must be executed on a host that has the
daemon config.

Examples:
  warden token create --config=warden.toml --subject=ops
  warden token create --config=warden.toml --subject=backup --ttl=168h`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return wardenCommand.TokenCreate(*tokenFlags)
		},
	}

	create.Flags().StringVar(&tokenFlags.ConfigPath, "config", "", "path to TOML config file with the auth secret")
	create.Flags().StringVar(&tokenFlags.Subject, "subject", "", "token subject, e.g. an operator name (required)")
	create.Flags().DurationVar(&tokenFlags.TTL, "ttl", 0, "token lifetime (default 24h)")

	if err := create.MarkFlagRequired("subject"); err != nil {
		panic(err)
	}

	cmd.AddCommand(create)
	return cmd
}

// createServeCommand creates the serve subcommand
func createServeCommand(globalFlags *GlobalFlags) *cobra.Command {
	serveFlags := &ServeFlags{}

	cmd := &cobra.Command{
		Use:   "serve [config.toml]",
		Short: "Start the warden daemon",
		Long: `Start the warden daemon. Instances, schedules, history and the API
server are all configured through the TOML config file.

Examples:
  warden serve --config=warden.toml
  warden serve warden.toml                       # Config as argument
  warden serve --config=warden.toml --daemonize --pidfile=/run/warden.pid`,
		RunE: func(cmd *cobra.Command, args []string) error {
			serveFlags.ConfigPath = globalFlags.ConfigPath
			return runServeCommand(serveFlags, args)
		},
	}

	cmd.Flags().BoolVar(&serveFlags.Daemonize, "daemonize", false, "run in the background, detached from the terminal")
	cmd.Flags().StringVar(&serveFlags.PidFile, "pidfile", "", "write the daemon PID to this file")
	cmd.Flags().StringVar(&serveFlags.LogFile, "logfile", "", "redirect daemon output to this file")

	return cmd
}
