/*
Package constants provides common values used across all trustysocks5 packages. Usage is to call the
global Get() function which returns the Constants by value ensuring that any modifications made
(accidental or otherwise) will not affect other modules when they call Get().

Typically usage:

    consts := constants.Get()
    fmt.Println("I am", consts.ServerProgramName, "based on", consts.RFC)

The primary reason for making this a constructed struct rather than the more typical const () block
is so that it can be fed directly into templating packages for printing usage messages.
*/
package constants

import "time"

// Constants contains the system-wide constants
type Constants struct {
	ServerProgramName string
	Version           string
	PackageName       string
	PackageURL        string
	RFC               string

	DefaultListenAddress string
	DefaultPort          string
	ListenBacklog        int

	SOCKS5Version byte

	MethodNoAuth       byte
	MethodNoAcceptable byte

	CmdConnect      byte
	CmdBind         byte
	CmdUDPAssociate byte

	AtypeIPv4   byte
	AtypeDomain byte
	AtypeIPv6   byte

	RepSuccess           byte
	RepGeneralFailure    byte
	RepNotAllowed        byte
	RepNetworkUnreach    byte
	RepHostUnreach       byte
	RepConnectRefused    byte
	RepTTLExpired        byte
	RepCmdNotSupported   byte
	RepAtypeNotSupported byte

	BufferDataSize     int // Per-buffer data area, mirrors the original HEV_BUFFER_DATA_SIZE
	BufferPoolCapacity int // Maximum number of live buffers the server's pool will hand out

	IdleReapInterval time.Duration // Reaper tick period; effective idle window is 1-2 ticks

	DNSDefaultPort  string
	DNSUDPTransport string
}

var readOnlyConstants *Constants

// createReadOnlyConstants creates a read-only copy of the Constants which is copied whenever a
// caller asks for the constants set. The main reason for returning a struct is so that callers can
// inspect and/or use packages that introspect - particularly */template packages.
func createReadOnlyConstants() {
	readOnlyConstants = &Constants{
		ServerProgramName: "socks5-server",
		Version:           "v0.1.0",
		PackageName:       "Trusty SOCKS5 Proxy",
		PackageURL:        "https://github.com/markdingo/trustysocks5",
		RFC:               "RFC1928",

		DefaultListenAddress: "0.0.0.0",
		DefaultPort:          "1080",
		ListenBacklog:        100,

		SOCKS5Version: 0x05,

		MethodNoAuth:       0x00,
		MethodNoAcceptable: 0xFF,

		CmdConnect:      0x01,
		CmdBind:         0x02,
		CmdUDPAssociate: 0x03,

		AtypeIPv4:   0x01,
		AtypeDomain: 0x03,
		AtypeIPv6:   0x04,

		RepSuccess:           0x00,
		RepGeneralFailure:    0x01,
		RepNotAllowed:        0x02,
		RepNetworkUnreach:    0x03,
		RepHostUnreach:       0x04,
		RepConnectRefused:    0x05,
		RepTTLExpired:        0x06,
		RepCmdNotSupported:   0x07,
		RepAtypeNotSupported: 0x08,

		BufferDataSize:     4092, // 4096 - 4 byte offset/length header, per the original HevBuffer
		BufferPoolCapacity: 4096,

		IdleReapInterval: 30 * time.Second,

		DNSDefaultPort:  "53",
		DNSUDPTransport: "udp",
	}
}

func init() {
	createReadOnlyConstants()
}

// Get returns a copy of the Constant struct. Return by value so internal values cannot be
// inadvertently changed by callers.
func Get() Constants {
	return *readOnlyConstants
}
