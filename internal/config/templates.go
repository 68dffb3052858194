package config

import (
	"fmt"
	"os"
	"strings"
)

func Template(kind string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(kind)) {
	case "instrument":
		return instrumentTemplate, nil
	case "targets":
		return targetsTemplate, nil
	default:
		return "", fmt.Errorf("unknown config kind: %s", kind)
	}
}

func WriteTemplate(path, kind string, overwrite bool) error {
	template, err := Template(kind)
	if err != nil {
		return err
	}
	if !overwrite {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config already exists: %s", path)
		}
	}
	return os.WriteFile(path, []byte(template), 0o600)
}

const instrumentTemplate = `name = "vantage-1"
addr = "192.168.100.100:2000"
init_version = 1
connect_timeout_ms = 5000
request_timeout_ms = 10000
write_timeout_ms = 5000

[tunnel]
enabled = false
addr = "lab-gateway:22"
user = "labops"
key_file = "~/.ssh/id_ed25519"
known_hosts = "~/.ssh/known_hosts"
`

const targetsTemplate = `[[targets]]
name = "vantage-1"
addr = "192.168.100.100:2000"
init_version = 1
request_timeout_ms = 10000

[[targets]]
name = "starlet-1"
addr = "192.168.100.101:2000"
`

