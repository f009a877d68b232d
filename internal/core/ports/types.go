// Package ports parses compose port entries into normalized port records.
// This is part of the Functional Core - all functions are pure with no I/O.
//
// Short syntax:
//
//	"3000"
//	"3000-3005"
//	"8000:8000"
//	"9090-9091:8080-8081"
//	"127.0.0.1:8001:8001"
//	"6060:6060/udp"
//
// Long syntax:
//
//	target: 80
//	published: 8080
//	protocol: tcp
//	mode: host
package ports

import (
	"fmt"
	"strconv"
)

// =============================================================================
// Port Types
// =============================================================================

// Protocol is the transport protocol of a port.
type Protocol string

const (
	ProtocolTCP Protocol = "tcp"
	ProtocolUDP Protocol = "udp"
)

// Mode is the publishing mode of a long-syntax port.
type Mode string

const (
	ModeHost    Mode = "host"
	ModeIngress Mode = "ingress"
)

// Port is one container port and, once resolved, its published host side.
// A Port with Host == 0 is incomplete: the host side has not been resolved yet.
type Port struct {
	Container int      `json:"container"`
	Host      int      `json:"host,omitempty"`
	HostIP    string   `json:"host_ip,omitempty"`
	Proto     Protocol `json:"proto"`
	Mode      Mode     `json:"mode,omitempty"`
}

// Key identifies a port within one service.
type Key struct {
	Container int
	Proto     Protocol
}

// Key returns the (container, proto) identity of the port.
func (p Port) Key() Key {
	return Key{Container: p.Container, Proto: p.Proto}
}

// Resolved reports whether the host side of the port is known.
func (p Port) Resolved() bool {
	return p.Host != 0
}

// String renders the port in compose short syntax.
func (p Port) String() string {
	container := strconv.Itoa(p.Container) + "/" + string(p.Proto)
	if p.Host == 0 {
		return container
	}
	if p.HostIP != "" {
		return fmt.Sprintf("%s:%d:%s", p.HostIP, p.Host, container)
	}
	return fmt.Sprintf("%d:%s", p.Host, container)
}

// HostPorts returns the host port of every port, in order.
func HostPorts(ps []Port) []int {
	out := make([]int, 0, len(ps))
	for _, p := range ps {
		out = append(out, p.Host)
	}
	return out
}
