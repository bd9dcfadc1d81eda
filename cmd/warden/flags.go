package main

import "time"

// Flag structs decouple cobra from the command logic so tests can call
// the handlers directly.

// ProcessFlags are shared by the commands that address one instance by
// name: start, stop, restart, output and unregister.
type ProcessFlags struct {
	Name string
	// Remote daemon connection
	APIUrl     string
	APITimeout time.Duration
	Token      string
	CACert     string
}

type StatusFlags struct {
	Name string // empty means all instances
	// Remote daemon connection
	APIUrl     string
	APITimeout time.Duration
	Token      string
	CACert     string
}

type SendFlags struct {
	Name    string
	Command string
	// Remote daemon connection
	APIUrl     string
	APITimeout time.Duration
	Token      string
	CACert     string
}

type HistoryFlags struct {
	Name  string // empty means all instances
	Limit int
	// Remote daemon connection
	APIUrl     string
	APITimeout time.Duration
	Token      string
	CACert     string
}

// RegisterFlags mirror the instance spec fields settable from the CLI.
type RegisterFlags struct {
	Name         string
	Program      string
	Args         []string
	Dir          string
	Env          []string
	StopCommand  string
	StartupGrace time.Duration
	StopTimeout  time.Duration
	TermTimeout  time.Duration
	BufferLines  int
	ConsoleLog   string
	Signature    string
	Markers      []string
	// Remote daemon connection
	APIUrl     string
	APITimeout time.Duration
	Token      string
	CACert     string
}

type ServeFlags struct {
	ConfigPath string
	Daemonize  bool
	PidFile    string
	LogFile    string
}

// TokenFlags configure local token minting from the config auth secret.
type TokenFlags struct {
	ConfigPath string
	Subject    string
	TTL        time.Duration
}
