package compose

import (
	"fmt"
	"sort"
	"strings"

	"github.com/compose-spec/compose-go/v2/interpolation"
	"gopkg.in/yaml.v3"

	"github.com/grantila/compd/internal/core/ports"
)

// LookupFunc resolves variables during interpolation, like os.LookupEnv.
type LookupFunc func(key string) (string, bool)

// =============================================================================
// Decoding
// =============================================================================

// DecodeDocument decodes compose YAML, interpolates ${VAR} references with
// lookup and keeps the services in file order.
// This is a pure function - no I/O, no side effects.
func DecodeDocument(content []byte, lookup LookupFunc) (Document, error) {
	if strings.TrimSpace(string(content)) == "" {
		return Document{}, ErrEmptyInput
	}

	var root yaml.Node
	if err := yaml.Unmarshal(content, &root); err != nil {
		return Document{}, NewParseError("", err.Error(), ErrInvalidYAML)
	}

	var dict map[string]any
	if err := root.Decode(&dict); err != nil {
		return Document{}, NewParseError("", err.Error(), ErrInvalidYAML)
	}
	if dict == nil {
		return Document{}, NewParseError("", "document is not a mapping", ErrInvalidYAML)
	}

	opts := interpolation.Options{}
	if lookup != nil {
		opts.LookupValue = func(key string) (string, bool) { return lookup(key) }
	}
	dict, err := interpolation.Interpolate(dict, opts)
	if err != nil {
		return Document{}, NewParseError("", err.Error(), ErrInterpolation)
	}

	services, ok := dict["services"].(map[string]any)
	if !ok || len(services) == 0 {
		return Document{}, ErrNoServices
	}

	doc := Document{}
	doc.Name, _ = dict["name"].(string)

	for _, name := range serviceOrder(&root, services) {
		def, ok := services[name].(map[string]any)
		if !ok && services[name] != nil {
			return Document{}, NewParseError("services."+name, "service must be a mapping", ErrInvalidService)
		}
		doc.Services = append(doc.Services, RawService{Name: name, Definition: def})
	}

	return doc, nil
}

// serviceOrder returns the service names in the order they appear in the
// source. Names missing from the node tree are appended sorted.
func serviceOrder(root *yaml.Node, services map[string]any) []string {
	var order []string
	seen := make(map[string]bool, len(services))

	if node := mappingValue(root, "services"); node != nil {
		for i := 0; i+1 < len(node.Content); i += 2 {
			name := node.Content[i].Value
			if _, ok := services[name]; ok && !seen[name] {
				order = append(order, name)
				seen[name] = true
			}
		}
	}

	var rest []string
	for name := range services {
		if !seen[name] {
			rest = append(rest, name)
		}
	}
	sort.Strings(rest)
	return append(order, rest...)
}

func mappingValue(node *yaml.Node, key string) *yaml.Node {
	if node.Kind == yaml.DocumentNode && len(node.Content) > 0 {
		node = node.Content[0]
	}
	if node.Kind != yaml.MappingNode {
		return nil
	}
	for i := 0; i+1 < len(node.Content); i += 2 {
		if node.Content[i].Value == key {
			return node.Content[i+1]
		}
	}
	return nil
}

// =============================================================================
// Service Model
// =============================================================================

// ParseDocument builds the service model of a decoded compose file.
// Ports are incomplete until the host side is resolved.
func ParseDocument(file string, doc Document, dockerHost string) ([]Service, error) {
	if len(doc.Services) == 0 {
		return nil, ErrNoServices
	}

	services := make([]Service, 0, len(doc.Services))
	for _, raw := range doc.Services {
		svc, err := convertService(file, raw, dockerHost)
		if err != nil {
			return nil, err
		}
		services = append(services, svc)
	}
	return services, nil
}

func convertService(file string, raw RawService, dockerHost string) (Service, error) {
	field := "services." + raw.Name
	def := raw.Definition

	svc := Service{
		File:       file,
		Name:       raw.Name,
		DockerHost: dockerHost,
	}
	svc.Image, _ = def["image"].(string)
	svc.ContainerName, _ = def["container_name"].(string)

	env, err := EnsureKeyValues(def["environment"])
	if err != nil {
		return Service{}, NewParseError(field+".environment", err.Error(), ErrInvalidKeyValue)
	}
	svc.Environment = env

	labels, err := EnsureKeyValues(def["labels"])
	if err != nil {
		return Service{}, NewParseError(field+".labels", err.Error(), ErrInvalidKeyValue)
	}
	svc.Labels = labels

	if rawPorts, ok := def["ports"]; ok && rawPorts != nil {
		list, ok := rawPorts.([]any)
		if !ok {
			return Service{}, NewParseError(field+".ports", "ports must be a list", ErrInvalidService)
		}
		ps, err := ports.ParsePorts(list)
		if err != nil {
			return Service{}, NewParseError(field+".ports", err.Error(), err)
		}
		svc.Ports = ps
	}

	return svc, nil
}

// EnsureKeyValues normalizes a compose key/value field. It accepts a mapping
// of scalars or a list of "KEY=VALUE" strings. A null value and a list entry
// without "=" both map to "", which Service.Env treats as unset, matching
// compose where such a variable is taken from the caller's environment.
func EnsureKeyValues(data any) (map[string]string, error) {
	out := make(map[string]string)

	switch v := data.(type) {
	case nil:
		return out, nil
	case map[string]any:
		for key, value := range v {
			if value == nil {
				out[key] = ""
				continue
			}
			out[key] = fmt.Sprintf("%v", value)
		}
	case map[string]string:
		for key, value := range v {
			out[key] = value
		}
	case []any:
		for _, item := range v {
			line, ok := item.(string)
			if !ok {
				return nil, fmt.Errorf("entry %v is not a string", item)
			}
			key, value, _ := strings.Cut(line, "=")
			out[key] = value
		}
	case []string:
		for _, line := range v {
			key, value, _ := strings.Cut(line, "=")
			out[key] = value
		}
	default:
		return nil, fmt.Errorf("unsupported type %T", data)
	}

	return out, nil
}
