package ports

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/docker/go-connections/nat"
)

// containerPattern matches "port[-port]" with an optional "/proto" suffix.
var containerPattern = regexp.MustCompile(`^([^/]+)(/([^/]+))?$`)

// =============================================================================
// Parsing
// =============================================================================

// Parse converts one compose port entry into one or more port records.
// Strings and integers use the short syntax; maps use the long syntax.
func Parse(spec any) ([]Port, error) {
	switch v := spec.(type) {
	case string:
		return parseShort(v)
	case int:
		return parseShort(strconv.Itoa(v))
	case int64:
		return parseShort(strconv.FormatInt(v, 10))
	case uint64:
		return parseShort(strconv.FormatUint(v, 10))
	case map[string]any:
		port, err := parseLong(v)
		if err != nil {
			return nil, err
		}
		return []Port{port}, nil
	default:
		return nil, NewSpecError(fmt.Sprintf("%v", spec), fmt.Sprintf("unsupported entry type %T", spec), ErrInvalidSpecification)
	}
}

// ParsePorts parses every entry and concatenates the results in input order.
func ParsePorts(specs []any) ([]Port, error) {
	var out []Port
	for _, spec := range specs {
		ps, err := Parse(spec)
		if err != nil {
			return nil, err
		}
		out = append(out, ps...)
	}
	return out, nil
}

// =============================================================================
// Short Syntax
// =============================================================================

type hostPorts struct {
	ip    string
	ports []int // nil when the host port is left for the engine to pick
}

func parseShort(spec string) ([]Port, error) {
	idx := strings.LastIndex(spec, ":")
	if idx < 0 {
		return parseContainer(spec, spec)
	}

	hostPart, containerPart := spec[:idx], spec[idx+1:]
	if hostPart == "" || containerPart == "" {
		return nil, NewSpecError(spec, "missing host or container port", ErrInvalidSpecification)
	}

	host, err := parseHost(spec, hostPart)
	if err != nil {
		return nil, err
	}
	containers, err := parseContainer(spec, containerPart)
	if err != nil {
		return nil, err
	}

	if host.ports == nil {
		for i := range containers {
			containers[i].HostIP = host.ip
		}
		return containers, nil
	}

	if len(host.ports) != len(containers) {
		return nil, NewSpecError(spec,
			fmt.Sprintf("%d host ports for %d container ports", len(host.ports), len(containers)),
			ErrRangeMismatch)
	}

	for i := range containers {
		containers[i].Host = host.ports[i]
		containers[i].HostIP = host.ip
	}
	return containers, nil
}

// parseHost parses "port", "low-high", "ip:port", "ip:low-high" and "ip:".
func parseHost(spec, value string) (hostPorts, error) {
	var out hostPorts
	if idx := strings.LastIndex(value, ":"); idx >= 0 {
		out.ip = strings.TrimSuffix(strings.TrimPrefix(value[:idx], "["), "]")
		value = value[idx+1:]
		if out.ip == "" {
			return out, NewSpecError(spec, "empty host IP", ErrInvalidSpecification)
		}
		if value == "" {
			return out, nil
		}
	}

	ports, err := parseRange(spec, value)
	if err != nil {
		return out, err
	}
	out.ports = ports
	return out, nil
}

// parseContainer parses "port", "low-high", optionally suffixed with "/proto".
func parseContainer(spec, value string) ([]Port, error) {
	m := containerPattern.FindStringSubmatch(value)
	if m == nil {
		return nil, NewSpecError(spec, "invalid container port", ErrInvalidSpecification)
	}

	proto := ProtocolTCP
	if m[3] != "" {
		p, err := parseProtocol(spec, m[3])
		if err != nil {
			return nil, err
		}
		proto = p
	}

	nums, err := parseRange(spec, m[1])
	if err != nil {
		return nil, err
	}

	out := make([]Port, 0, len(nums))
	for _, n := range nums {
		out = append(out, Port{Container: n, Proto: proto})
	}
	return out, nil
}

// parseRange expands an inclusive "low-high" range or a single port.
func parseRange(spec, value string) ([]int, error) {
	if value == "" {
		return nil, NewSpecError(spec, "empty port", ErrInvalidSpecification)
	}
	low, high, err := nat.ParsePortRange(value)
	if err != nil {
		return nil, NewSpecError(spec, err.Error(), ErrInvalidSpecification)
	}

	out := make([]int, 0, high-low+1)
	for p := low; p <= high; p++ {
		out = append(out, int(p))
	}
	return out, nil
}

func parseProtocol(spec, value string) (Protocol, error) {
	switch Protocol(strings.ToLower(value)) {
	case ProtocolTCP:
		return ProtocolTCP, nil
	case ProtocolUDP:
		return ProtocolUDP, nil
	default:
		return "", NewSpecError(spec, fmt.Sprintf("unsupported protocol %q", value), ErrInvalidSpecification)
	}
}

// =============================================================================
// Long Syntax
// =============================================================================

func parseLong(v map[string]any) (Port, error) {
	spec := fmt.Sprintf("%v", v)

	container, ok, err := intField(v, "target")
	if err != nil {
		return Port{}, NewSpecError(spec, "target: "+err.Error(), ErrInvalidSpecification)
	}
	if !ok {
		return Port{}, NewSpecError(spec, "missing target", ErrInvalidSpecification)
	}

	host, _, err := intField(v, "published")
	if err != nil {
		return Port{}, NewSpecError(spec, "published: "+err.Error(), ErrInvalidSpecification)
	}

	port := Port{
		Container: container,
		Host:      host,
		Proto:     ProtocolTCP,
		Mode:      ModeHost,
	}

	if s, _ := v["protocol"].(string); s != "" {
		proto, err := parseProtocol(spec, s)
		if err != nil {
			return Port{}, err
		}
		port.Proto = proto
	}
	if s, _ := v["mode"].(string); s != "" {
		port.Mode = Mode(s)
	}
	if s, _ := v["host_ip"].(string); s != "" {
		port.HostIP = s
	}

	return port, nil
}

func intField(v map[string]any, key string) (int, bool, error) {
	raw, ok := v[key]
	if !ok || raw == nil {
		return 0, false, nil
	}
	switch n := raw.(type) {
	case int:
		return n, true, nil
	case int64:
		return int(n), true, nil
	case uint64:
		return int(n), true, nil
	case float64:
		return int(n), true, nil
	case string:
		if n == "" {
			return 0, false, nil
		}
		i, err := strconv.Atoi(n)
		if err != nil {
			return 0, false, fmt.Errorf("not a port number: %q", n)
		}
		return i, true, nil
	default:
		return 0, false, fmt.Errorf("unsupported type %T", raw)
	}
}
