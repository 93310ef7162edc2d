package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/openbmap/radiobeacon-core/internal/mqtt"
)

func main() {
	cfg := mqtt.Config{
		BrokerHost:  getenvDefault("127.0.0.1", "RADIOBEACON_MQTT_BROKER_ADDRESS"),
		BrokerPort:  getenvIntDefault(1883, "RADIOBEACON_MQTT_PORT"),
		Username:    getenvDefault("", "RADIOBEACON_MQTT_USERNAME"),
		Password:    getenvDefault("", "RADIOBEACON_MQTT_PASSWORD"),
		TopicPrefix: getenvDefault("radiobeacon/scans/#", "RADIOBEACON_MQTT_TOPIC"),
		ClientID:    fmt.Sprintf("radiobeacon-smoke-%d", time.Now().UnixNano()),
		KeepAlive:   30 * time.Second,
	}

	client, err := mqtt.NewClient(cfg)
	if err != nil {
		log.Fatalf("create client: %v", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := client.Start(ctx); err != nil {
		log.Fatalf("start client: %v", err)
	}
	defer client.Stop()

	log.Printf("connected to %s:%d, awaiting scan reports...", cfg.BrokerHost, cfg.BrokerPort)

	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Printf("context cancelled, exiting")
			return
		case msg, ok := <-client.Messages():
			if !ok {
				log.Printf("messages channel closed")
				return
			}
			log.Printf("MSG topic=%s retained=%t qos=%d size=%d", msg.Topic, msg.Retained, msg.QoS, len(msg.Payload))
		case err := <-client.Errors():
			log.Printf("ERR %v", err)
		case <-ticker.C:
			log.Printf("still connected, no scan reports in the last interval")
		}
	}
}

func getenvDefault(fallback string, keys ...string) string {
	for _, key := range keys {
		if val := os.Getenv(key); val != "" {
			return val
		}
	}
	return fallback
}

func getenvIntDefault(fallback int, keys ...string) int {
	for _, key := range keys {
		if val := os.Getenv(key); val != "" {
			var parsed int
			if _, err := fmt.Sscanf(val, "%d", &parsed); err == nil {
				return parsed
			}
		}
	}
	return fallback
}
