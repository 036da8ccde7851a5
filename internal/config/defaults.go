package config

// DefaultAddr is the default listen address for the bridge.
const DefaultAddr = "127.0.0.1:7170"

// DefaultPingIntervalSec is the client heartbeat interval in seconds.
const DefaultPingIntervalSec = 30

// DefaultReconnectAttempts bounds client-side automatic reconnection.
const DefaultReconnectAttempts = 3

// DefaultReconnectDelaySec is the fixed delay between reconnection
// attempts, in seconds.
const DefaultReconnectDelaySec = 2
