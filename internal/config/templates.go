package config

import (
	"fmt"
	"os"
	"strings"
)

func Template(kind string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(kind)) {
	case "relay":
		return relayTemplate, nil
	case "profile":
		return profileTemplate, nil
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

const relayTemplate = `listen_addr = ":6969"
admin_addr = "127.0.0.1:6970"
cadence_hz = 60
handshake_timeout = "5s"
write_timeout = "1s"
ident_max_bytes = 50
profile = "profile.toml"
cors_origins = ["http://localhost:3000"]
`

const profileTemplate = `name = "hmd-two-controllers"

[[devices]]
name = "head"
class = "hmd"
subtype = 13

[[devices]]
name = "left"
class = "controller"
subtype = 22

[[devices]]
name = "right"
class = "controller"
subtype = 22

[motion]
radius = 0.35
period_seconds = 4.0
bob = 0.05
head_height = 1.7
`
