package main

import (
	"fmt"
	"io"
	"text/template"
)

// The "flag" package is not tty aware so we've arbitrarily picked 100 columns as a conservative tty
// width for the usage output.

const usageMessageTemplate = `
NAME
          {{.ServerProgramName}} -- a {{.RFC}} SOCKS5 proxy

SYNOPSIS
          {{.ServerProgramName}} [-a address] [-p port] [options]

DESCRIPTION
          {{.ServerProgramName}} is a {{.RFC}} SOCKS5 proxy supporting the no-authentication method
          and the CONNECT command only. BIND, UDP ASSOCIATE, GSSAPI/username-password authentication
          and IPv6 destination addresses are not implemented - see the project README for rationale.

          Domain-name destinations are resolved with a single A-record query against exactly one
          configured recursive resolver, sent once with no retries. Callers needing resilient
          resolution should point -dns-server at a resolver that already provides it.

INVOCATION
          The simplest invocation is:

              $ {{.ServerProgramName}}

          at which point the proxy listens on {{.DefaultListenAddress}}:{{.DefaultPort}} and forwards
          CONNECT requests using the DNS server at 127.0.0.1:{{.DNSDefaultPort}} for name resolution.

OPTIONS
          [-hv] [-vv]
          [-a listen address] [-p listen port]
          [-dns-server address:port]
          [-max-sessions count] [-buffer-count count]
          [-connect-timeout duration] [-resolve-timeout duration]
          [-idle-reap duration] [-status-interval interval]

          [--gops] [--cpu-profile file] [--mem-profile file]

          [--user userName] [--group groupName] [--chroot directory]

          [--version]

`

//////////////////////////////////////////////////////////////////////

func usage(out io.Writer) {
	tmpl, err := template.New("usage").Parse(usageMessageTemplate)
	if err != nil {
		panic(err) // We've messed up our template
	}
	err = tmpl.Execute(out, consts)
	if err != nil {
		panic(err) // We've messed up our template
	}
	flagSet.SetOutput(out) // This is permanent so we assume an exit summarily
	flagSet.PrintDefaults()
	fmt.Fprintln(out, "\nVersion:", consts.Version)
}

// parseCommandLine sets up the flags-to-config mapping and parses the supplied command line
// arguments. It starts from scratch each time to make it easier for test wrappers to use.
func parseCommandLine(args []string) error {
	flagSet.BoolVar(&cfg.help, "h", false, "Print usage message to Stdout then exit(0)")
	flagSet.BoolVar(&cfg.verbose, "v", false, "Verbose status and stats - otherwise only errors are output")
	flagSet.BoolVar(&cfg.vverbose, "vv", false, "Very verbose - per-operation logging of resolve/relay/idle events")

	flagSet.StringVar(&cfg.listenAddr, "a", consts.DefaultListenAddress, "Listen `address` for inbound SOCKS5 connections")
	flagSet.IntVar(&cfg.listenPort, "p", defaultListenPort, "Listen `port` for inbound SOCKS5 connections")
	flagSet.StringVar(&cfg.dnsServer, "dns-server", defaultDNSServer, "Recursive DNS `address:port` used to resolve domain-name destinations")

	flagSet.IntVar(&cfg.bufferMaxCount, "buffer-count", consts.BufferPoolCapacity,
		"Maximum number of in-flight relay `buffers`, each "+fmt.Sprint(consts.BufferDataSize)+" bytes")
	flagSet.IntVar(&cfg.maxSessions, "max-sessions", 0, "Maximum concurrent sessions (0 means unlimited)")

	flagSet.DurationVar(&cfg.connectTimeout, "connect-timeout", defaultConnectTimeout, "Outbound connect `timeout`")
	flagSet.DurationVar(&cfg.resolveTimeout, "resolve-timeout", defaultResolveTimeout, "DNS resolution `timeout`")
	flagSet.DurationVar(&cfg.idleReapInterval, "idle-reap", consts.IdleReapInterval, "Idle session reap tick `interval`")
	flagSet.DurationVar(&cfg.statusInterval, "status-interval", defaultStatusInterval, "Periodic Status Report `interval` (needs -v set)")

	flagSet.BoolVar(&cfg.gops, "gops", false, "Start github.com/google/gops agent")
	flagSet.StringVar(&cfg.cpuprofile, "cpu-profile", "", "write cpu profile to `file`")
	flagSet.StringVar(&cfg.memprofile, "mem-profile", "", "write mem profile to `file`")

	flagSet.StringVar(&cfg.setuidName, "user", "", "setuid `username` to constrain process after start-up (disabled for Linux)")
	flagSet.StringVar(&cfg.setgidName, "group", "", "setgid `groupname` to constrain process after start-up (disabled for Linux)")
	flagSet.StringVar(&cfg.chrootDir, "chroot", "", "chroot `directory` to constrain process after start-up")

	flagSet.BoolVar(&cfg.version, "version", false, "Print version and exit")

	return flagSet.Parse(args[1:])
}
