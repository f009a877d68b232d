package compose

import (
	"strconv"
	"strings"
)

// PortEnvironment returns the variables that tell a command where each
// service's ports are published:
//
//	<SERVICE>_HOST            the docker host
//	<SERVICE>_PORT_<CONTAINER> the host port of a container port
//	<SERVICE>_PORT            the host port, when the service has exactly one
func PortEnvironment(services []Service) map[string]string {
	env := make(map[string]string)

	for _, svc := range services {
		env[EnvName(svc.Name, "host")] = svc.DockerHost

		for _, p := range svc.Ports {
			env[EnvName(svc.Name, "port", strconv.Itoa(p.Container))] = strconv.Itoa(p.Host)
		}

		if len(svc.Ports) == 1 {
			env[EnvName(svc.Name, "port")] = strconv.Itoa(svc.Ports[0].Host)
		}
	}

	return env
}

// EnvName joins parts with "_", upper-cases the result and replaces
// characters that are not valid in shell variable names with "_".
func EnvName(parts ...string) string {
	name := strings.ToUpper(strings.Join(parts, "_"))
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_':
			return r
		default:
			return '_'
		}
	}, name)
}
