//go:build no_mqtt

package main

import (
	"log/slog"

	"device-console/internal/console"
)

type mqttStopper struct{}

func (m *mqttStopper) Stop() {}

func initMQTT(_ *console.Console, _ *Config, _ *slog.Logger) *mqttStopper {
	return &mqttStopper{}
}
