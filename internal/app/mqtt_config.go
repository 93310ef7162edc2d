package app

import (
	"strings"

	"github.com/openbmap/radiobeacon-core/internal/config"
	"github.com/openbmap/radiobeacon-core/internal/mqtt"
)

// BuildMQTTConfig translates the application configuration into an MQTT
// client config. The configured topic becomes the subscription prefix and
// the collector name doubles as the client identifier.
func BuildMQTTConfig(cfg *config.App) mqtt.Config {
	if cfg == nil {
		return mqtt.Config{}
	}

	return mqtt.Config{
		BrokerHost:  strings.TrimSpace(cfg.MQTTBrokerAddress),
		BrokerPort:  cfg.MQTTPort,
		Username:    strings.TrimSpace(cfg.MQTTUsername),
		Password:    strings.TrimSpace(cfg.MQTTPassword),
		TopicPrefix: strings.TrimSpace(cfg.MQTTTopic),
		ClientID:    strings.TrimSpace(cfg.Name),
	}
}
