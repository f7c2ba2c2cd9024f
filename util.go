package main

import (
	"fmt"
	"os"
	"os/exec"
	"strings"

	log "github.com/sirupsen/logrus"
)

func GetMachineID() (string, error) {
	out, err := exec.Command("systemd-id128", "machine-id", "-u").Output()
	if err != nil {
		return "", fmt.Errorf("Failed to retrieve machine-id: %w", err)
	}

	return strings.TrimSpace(string(out)), nil
}

// defaultClientID derives a stable MQTT client id for this machine.
func defaultClientID() string {
	if id, err := GetMachineID(); err == nil && id != "" {
		return "rgb-strand-" + id
	} else if err != nil {
		log.WithError(err).Debug("falling back to hostname for client id")
	}

	hostname, err := os.Hostname()
	if err != nil {
		return "rgb-strand-agent"
	}
	return "rgb-strand-" + hostname
}
