// Package dockerhost decides which address clients should use to reach
// published container ports.
// This is part of the Functional Core - it parses settings and command output
// but never runs commands itself.
package dockerhost

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/docker/docker/client"
)

const (
	// Fallback is used whenever a strategy cannot produce an address.
	Fallback = "127.0.0.1"

	// DefaultEnvName is the variable read by the env strategy.
	DefaultEnvName = "DOCKER_HOST"
)

// =============================================================================
// Errors
// =============================================================================

var (
	// ErrInvalidSetting is a configuration error, not a fallback case.
	ErrInvalidSetting = errors.New("invalid docker-host setting")

	ErrEnvNotFound    = errors.New("environment variable not found")
	ErrEnvNotTCP      = errors.New("environment variable doesn't have tcp protocol")
	ErrEnvUnparsable  = errors.New("couldn't parse environment variable")
	ErrNoDefaultRoute = errors.New("output doesn't contain default route")
	ErrNoGatewayRoute = errors.New("output doesn't contain UG")
)

// =============================================================================
// Settings
// =============================================================================

// Strategy selects how the docker host is determined.
type Strategy string

const (
	StrategyEnv   Strategy = "env"
	StrategyRoute Strategy = "route"
	StrategyHost  Strategy = "host"
	StrategyNone  Strategy = "no"
)

// Setting is a parsed --docker-host value.
type Setting struct {
	Strategy Strategy
	// Value is the variable name for env and the literal address for host.
	Value string
	// Verbose forces diagnostics for env failures other than a missing variable.
	Verbose bool
}

// ParseSetting parses "env", "env:NAME", "route", "host:VALUE", "no" or "".
func ParseSetting(token string, verbose bool) (Setting, error) {
	switch {
	case token == "" || token == "env":
		return Setting{Strategy: StrategyEnv, Value: DefaultEnvName, Verbose: verbose || token != ""}, nil
	case strings.HasPrefix(token, "env:"):
		return Setting{Strategy: StrategyEnv, Value: strings.TrimPrefix(token, "env:"), Verbose: true}, nil
	case token == "route":
		return Setting{Strategy: StrategyRoute, Verbose: verbose}, nil
	case strings.HasPrefix(token, "host:"):
		return Setting{Strategy: StrategyHost, Value: strings.TrimPrefix(token, "host:"), Verbose: verbose}, nil
	case token == "no":
		return Setting{Strategy: StrategyNone, Verbose: verbose}, nil
	default:
		return Setting{}, fmt.Errorf("%w: %s", ErrInvalidSetting, token)
	}
}

// =============================================================================
// Environment Strategy
// =============================================================================

// FromEnvValue extracts the host from the value of the named variable.
// Plain values are used verbatim; URLs must use the tcp scheme.
func FromEnvValue(name, value string) (string, error) {
	if value == "" {
		return "", fmt.Errorf("%w: %s", ErrEnvNotFound, name)
	}
	if !strings.Contains(value, ":/") {
		return value, nil
	}

	u, err := client.ParseHostURL(value)
	if err != nil {
		return "", fmt.Errorf("%w: %s: %v", ErrEnvUnparsable, name, err)
	}
	if u.Scheme != "tcp" {
		return "", fmt.Errorf("%w: %s", ErrEnvNotTCP, name)
	}
	if u.Hostname() == "" {
		return "", fmt.Errorf("%w: %s: empty host", ErrEnvUnparsable, name)
	}
	return u.Hostname(), nil
}

// =============================================================================
// Route Table Strategies
// =============================================================================

var (
	whitespace  = regexp.MustCompile(`\s+`)
	gatewayFlag = regexp.MustCompile(`\sUG\s`)
)

// ParseIPRoute picks the gateway from `ip route` output:
//
//	default via 172.17.0.1 dev eth0
func ParseIPRoute(output string) (string, error) {
	for _, line := range strings.Split(output, "\n") {
		if !strings.HasPrefix(line, "default") {
			continue
		}
		if ip := field(line, 2); ip != "" {
			return ip, nil
		}
		break
	}
	return "", fmt.Errorf("%w:\n%s", ErrNoDefaultRoute, output)
}

// ParseRouteTable picks the gateway from `route -n` output:
//
//	Destination     Gateway         Genmask         Flags Metric Ref    Use Iface
//	0.0.0.0         172.17.0.1      0.0.0.0         UG    0      0        0 eth0
func ParseRouteTable(output string) (string, error) {
	for _, line := range strings.Split(output, "\n") {
		if !gatewayFlag.MatchString(line) {
			continue
		}
		if ip := field(line, 1); ip != "" {
			return ip, nil
		}
		break
	}
	return "", fmt.Errorf("%w:\n%s", ErrNoGatewayRoute, output)
}

// field returns the n-th token after collapsing whitespace runs to one space.
func field(line string, n int) string {
	parts := strings.Split(whitespace.ReplaceAllString(line, " "), " ")
	if n < len(parts) {
		return parts[n]
	}
	return ""
}

// Indent prefixes every line of msg with two spaces.
func Indent(msg string) string {
	lines := strings.Split(msg, "\n")
	for i, l := range lines {
		lines[i] = "  " + l
	}
	return strings.Join(lines, "\n")
}
