package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/loykin/warden/internal/auth"
	"github.com/loykin/warden/internal/config"
	"github.com/loykin/warden/pkg/client"
)

// command binds the CLI subcommands to the daemon API.
type command struct {
	globals *GlobalFlags
}

// daemonClient builds a client for the given connection flags. The token
// and CA certificate fall back to the WARDEN_TOKEN and WARDEN_CA_CERT
// environment variables so scripts do not have to pass them on every
// call.
func daemonClient(apiURL string, timeout time.Duration, token, caCert string) (*client.Client, string) {
	cfg := client.DefaultConfig()
	if apiURL != "" {
		cfg.BaseURL = apiURL
	}
	if timeout > 0 {
		cfg.Timeout = timeout
	}
	cfg.Token = token
	if cfg.Token == "" {
		cfg.Token = os.Getenv("WARDEN_TOKEN")
	}
	if caCert == "" {
		caCert = os.Getenv("WARDEN_CA_CERT")
	}
	if caCert != "" {
		cfg.TLS = &client.TLSConfig{CACert: caCert}
	}
	return client.New(cfg), cfg.BaseURL
}

// dial returns a client whose daemon answered the health probe.
func dial(apiURL string, timeout time.Duration, token, caCert string) (*client.Client, error) {
	api, base := daemonClient(apiURL, timeout, token, caCert)
	if !api.IsReachable(context.Background()) {
		return nil, fmt.Errorf("daemon not reachable at %s - start it first with 'warden serve'", base)
	}
	return api, nil
}

// Register defines an instance on the daemon without starting it.
func (c command) Register(f RegisterFlags) error {
	api, err := dial(f.APIUrl, f.APITimeout, f.Token, f.CACert)
	if err != nil {
		return err
	}
	spec := client.Spec{
		Name:         f.Name,
		Program:      f.Program,
		Args:         f.Args,
		Dir:          f.Dir,
		Env:          f.Env,
		StopCommand:  f.StopCommand,
		StartupGrace: f.StartupGrace,
		StopTimeout:  f.StopTimeout,
		TermTimeout:  f.TermTimeout,
		BufferLines:  f.BufferLines,
		ConsoleLog:   f.ConsoleLog,
		Signature:    f.Signature,
		Markers:      f.Markers,
	}
	if err := api.Register(context.Background(), spec); err != nil {
		return err
	}
	fmt.Printf("registered %s\n", f.Name)
	return nil
}

// Unregister removes an instance definition, stopping it first if live.
func (c command) Unregister(f ProcessFlags) error {
	api, err := dial(f.APIUrl, f.APITimeout, f.Token, f.CACert)
	if err != nil {
		return err
	}
	if err := api.Unregister(context.Background(), f.Name); err != nil {
		return err
	}
	fmt.Printf("unregistered %s\n", f.Name)
	return nil
}

// Start launches a registered instance and prints its status. A launch
// failure surfaces the captured console output.
func (c command) Start(f ProcessFlags) error {
	api, err := dial(f.APIUrl, f.APITimeout, f.Token, f.CACert)
	if err != nil {
		return err
	}
	ctx := context.Background()
	if err := api.Start(ctx, f.Name); err != nil {
		return renderLaunchFailure(err)
	}
	st, err := api.Status(ctx, f.Name)
	if err != nil {
		return err
	}
	printJSON(st)
	return nil
}

// Stop shuts an instance down and prints its final status.
func (c command) Stop(f ProcessFlags) error {
	api, err := dial(f.APIUrl, f.APITimeout, f.Token, f.CACert)
	if err != nil {
		return err
	}
	ctx := context.Background()
	stopped, err := api.Stop(ctx, f.Name)
	if err != nil {
		return err
	}
	if !stopped {
		fmt.Printf("%s was not running\n", f.Name)
		return nil
	}
	st, err := api.Status(ctx, f.Name)
	if err != nil {
		return err
	}
	printJSON(st)
	return nil
}

// Restart stops an instance if needed and starts it again.
func (c command) Restart(f ProcessFlags) error {
	api, err := dial(f.APIUrl, f.APITimeout, f.Token, f.CACert)
	if err != nil {
		return err
	}
	ctx := context.Background()
	if err := api.Restart(ctx, f.Name); err != nil {
		return renderLaunchFailure(err)
	}
	st, err := api.Status(ctx, f.Name)
	if err != nil {
		return err
	}
	printJSON(st)
	return nil
}

// Status prints one instance's status, or all of them.
func (c command) Status(f StatusFlags) error {
	api, err := dial(f.APIUrl, f.APITimeout, f.Token, f.CACert)
	if err != nil {
		return err
	}
	ctx := context.Background()
	if f.Name == "" {
		sts, err := api.List(ctx)
		if err != nil {
			return err
		}
		printJSON(sts)
		return nil
	}
	st, err := api.Status(ctx, f.Name)
	if err != nil {
		return err
	}
	printJSON(st)
	return nil
}

// Send writes a console command to a running instance.
func (c command) Send(f SendFlags) error {
	api, err := dial(f.APIUrl, f.APITimeout, f.Token, f.CACert)
	if err != nil {
		return err
	}
	return api.Send(context.Background(), f.Name, f.Command)
}

// Output prints the instance's buffered console lines.
func (c command) Output(f ProcessFlags) error {
	api, err := dial(f.APIUrl, f.APITimeout, f.Token, f.CACert)
	if err != nil {
		return err
	}
	lines, err := api.Output(context.Background(), f.Name)
	if err != nil {
		return err
	}
	for _, line := range lines {
		fmt.Println(line)
	}
	return nil
}

// History prints recorded lifecycle events, newest first.
func (c command) History(f HistoryFlags) error {
	api, err := dial(f.APIUrl, f.APITimeout, f.Token, f.CACert)
	if err != nil {
		return err
	}
	events, err := api.History(context.Background(), f.Name, f.Limit)
	if err != nil {
		return err
	}
	printJSON(events)
	return nil
}

// TokenCreate mints a bearer token from the auth secret in the config
// file. It runs locally so tokens can be issued on the daemon host
// without any existing credential.
func (c command) TokenCreate(f TokenFlags) error {
	configPath := f.ConfigPath
	if configPath == "" {
		configPath = c.globals.ConfigPath
	}
	if configPath == "" {
		return fmt.Errorf("config file required to locate the auth secret: use --config=warden.toml")
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("error loading config: %w", err)
	}
	if cfg.Server.AuthSecret == "" {
		return fmt.Errorf("auth is not configured: set auth_secret or auth_secret_file under [server]")
	}
	svc, err := auth.NewService(cfg.Server.AuthSecret, f.TTL)
	if err != nil {
		return err
	}
	tok, err := svc.Issue(f.Subject)
	if err != nil {
		return err
	}
	printJSON(tok)
	return nil
}
