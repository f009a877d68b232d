package readiness

import (
	"github.com/grantila/compd/internal/core/compose"
	"github.com/grantila/compd/internal/core/ports"
)

// FindMatches runs the detectors in order against a working copy of svc and
// returns every match with at least one port. Ports claimed by a final match
// are removed from the working copy, so later detectors cannot claim them
// again. Non-final matches leave the working copy unchanged.
func FindMatches(detectors []Detector, svc compose.Service) []Match {
	var matches []Match
	working := svc.Clone()

	for _, d := range detectors {
		res := d.Matches(working)
		if len(res.Ports) == 0 {
			continue
		}

		matches = append(matches, Match{
			Detector: d,
			Ports:    append([]ports.Port(nil), res.Ports...),
			Final:    res.Final,
		})

		if res.Final {
			working = working.WithoutHostPorts(ports.HostPorts(res.Ports))
		}
	}

	return matches
}

// Understood reports whether the chain ends with a final match.
func Understood(matches []Match) bool {
	return len(matches) > 0 && matches[len(matches)-1].Final
}
