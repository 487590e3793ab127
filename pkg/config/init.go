package config

import (
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"time"

	"gopkg.in/yaml.v3"
)

const configHeader = `framekit configuration file
Every value can be overridden with an environment variable named after its
key path, for example FRAMEKIT_SERVER_PORT or FRAMEKIT_LOGGING_LEVEL.`

// sectionComments are written above each top-level section.
var sectionComments = map[string]string{
	"logging": "Log output: level (DEBUG, INFO, WARN, ERROR), format (text, json), output (stdout, stderr, path)",
	"server":  "Packet server started by \"framekit serve\"",
	"client":  "Packet client used by \"framekit send\"",
	"handler": "Server packet handler: echo, discard, log or record\noptions: close_after (packets), delay (duration), preview_bytes (log only),\njournal.path and journal.sync_writes (record only, empty path keeps the journal in memory)",
	"metrics": "Prometheus exposition on /metrics",
}

// InitConfig writes a default configuration file to the default location.
//
// Returns the path of the written file. Fails if a file already exists there,
// unless force is set.
func InitConfig(force bool) (string, error) {
	path := GetDefaultConfigPath()
	if err := InitConfigToPath(path, force); err != nil {
		return "", err
	}
	return path, nil
}

// InitConfigToPath writes a default configuration file to path, creating
// parent directories as needed.
func InitConfigToPath(path string, force bool) error {
	if !force {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config file already exists at %s (use --force to overwrite)", path)
		}
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	content, err := generateYAMLWithComments(GetDefaultConfig())
	if err != nil {
		return err
	}

	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// generateYAMLWithComments renders cfg as YAML keyed by the mapstructure tags
// Load reads, with a header and a comment above each section.
func generateYAMLWithComments(cfg *Config) (string, error) {
	root, err := toNode(reflect.ValueOf(*cfg))
	if err != nil {
		return "", err
	}

	for i := 0; i < len(root.Content); i += 2 {
		root.Content[i].HeadComment = sectionComments[root.Content[i].Value]
	}

	doc := &yaml.Node{
		Kind:        yaml.DocumentNode,
		HeadComment: configHeader,
		Content:     []*yaml.Node{root},
	}

	out, err := yaml.Marshal(doc)
	if err != nil {
		return "", fmt.Errorf("failed to marshal config: %w", err)
	}
	return string(out), nil
}

var durationType = reflect.TypeOf(time.Duration(0))

// toNode converts a value to a YAML node. Structs become mappings keyed by
// their mapstructure tags and durations become strings such as "30s".
func toNode(v reflect.Value) (*yaml.Node, error) {
	if v.Type() == durationType {
		return &yaml.Node{
			Kind:  yaml.ScalarNode,
			Tag:   "!!str",
			Value: time.Duration(v.Int()).String(),
		}, nil
	}

	if v.Kind() == reflect.Struct {
		node := &yaml.Node{Kind: yaml.MappingNode}
		for _, f := range fields(v.Type()) {
			value, err := toNode(v.Field(f.index))
			if err != nil {
				return nil, fmt.Errorf("%s: %w", f.key, err)
			}
			node.Content = append(node.Content,
				&yaml.Node{Kind: yaml.ScalarNode, Value: f.key},
				value,
			)
		}
		return node, nil
	}

	node := &yaml.Node{}
	if err := node.Encode(v.Interface()); err != nil {
		return nil, err
	}
	return node, nil
}
