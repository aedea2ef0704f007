package controller

import "time"

// Settings configures a Controller's adapter selection, fleet selection,
// and OTA tuning (§6.2).
type Settings struct {
	SerialPort     string
	SerialBaudrate int

	MQTTHost   string
	MQTTPort   int
	MQTTUseTLS bool
	NetworkID  uint16

	// Adapter selects the transport: "edge" (serial) or "cloud" (MQTT).
	Adapter string

	// Devices is the selection list of hex address strings; empty means
	// "all" (broadcast scope).
	Devices []string

	OtaMaxRetries int
	OtaTimeout    time.Duration

	Verbose bool
}

// DefaultSettings returns the documented defaults (§6.2).
func DefaultSettings() Settings {
	return Settings{
		SerialBaudrate: 1_000_000,
		MQTTPort:       1883,
		NetworkID:      0x1200,
		Adapter:        "edge",
		OtaMaxRetries:  10,
		OtaTimeout:     700 * time.Millisecond,
	}
}
