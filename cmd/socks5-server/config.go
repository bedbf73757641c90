package main

import (
	"time"
)

type config struct {
	gops     bool
	help     bool
	verbose  bool
	vverbose bool
	version  bool

	listenAddr string
	listenPort int
	dnsServer  string

	bufferSize     int
	bufferMaxCount int
	maxSessions    int

	idleReapInterval time.Duration
	connectTimeout   time.Duration
	resolveTimeout   time.Duration
	statusInterval   time.Duration

	cpuprofile, memprofile string

	setuidName, setgidName, chrootDir string // Process constraint settings
}
