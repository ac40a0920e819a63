// Package mqttclient provides an MQTT 3.1 and 3.1.1 client connection engine.
//
// This package implements the MQTT Version 3.1.1 OASIS Standard and the
// older 3.1 protocol level:
// https://docs.oasis-open.org/mqtt/mqtt/v3.1.1/mqtt-v3.1.1.html
//
// # Features
//
//   - All 14 MQTT 3.1.1 control packet types
//   - QoS 0, 1, 2 message flows, outbound and inbound
//   - Automatic reconnection with exponential backoff and attempt bounds
//   - Replay of unacknowledged publishes after a reconnect
//   - Keep-alive with PINGREQ/PINGRESP supervision
//   - Transport: TCP, TLS, WebSocket, WSS, Unix socket, QUIC, SOCKS5/HTTP proxy
//   - Pluggable logging (zap, logr) and metrics (Prometheus)
//
// # Connections
//
// Three connection types share one engine. CallbackConnection reports
// results through completion callbacks, FutureConnection returns a Future
// per operation and BlockingConnection blocks the caller:
//
//	conn, err := mqttclient.NewBlockingConnection(mqttclient.NewConfig(
//	    mqttclient.WithHost("tcp://localhost:1883"),
//	    mqttclient.WithClientID("my-client"),
//	    mqttclient.WithKeepAlive(60),
//	))
//	err = conn.Connect(ctx)
//	err = conn.Publish(ctx, "sensors/temp", []byte("21.5"), 1, false)
//	codes, err := conn.Subscribe(ctx, mqttclient.Subscription{TopicFilter: "cmd/#", QoS: 1})
//	msg, err := conn.Receive(ctx)
//	err = conn.Disconnect(ctx)
//
// Every operation of a connection runs on its Executor, a serial queue by
// default, so callbacks and state handlers never run concurrently with each
// other. Dials and socket writes run on the shared WorkerPool.
//
// # Connection states
//
// A connection moves between StateDisconnected, StateConnecting,
// StateConnected and StateReconnectWait. StateFailed is terminal and is
// entered once Config.Reconnect bounds are exhausted; the cause is a
// *FailedError.
//
// # Packets
//
// The codec is usable on its own. Use ReadPacket and WritePacket with
// connections, or Encode and Decode with byte slices:
//
//	pkt, n, err := mqttclient.ReadPacket(conn, maxPacketSize)
//	n, err := mqttclient.WritePacket(conn, packet, maxPacketSize)
//
// # Transports
//
// The scheme of Config.Host selects the transport:
//
//	tcp://, mqtt://              plain TCP (default port 1883)
//	ssl://, tls://, mqtts://     TLS (default port 8883)
//	ws://, wss://                WebSocket with the "mqtt" subprotocol
//	unix:///path/to/socket       Unix domain socket
//	quic://                      QUIC stream with ALPN "mqtt"
//
// # Configuration
//
// Config is a value type. NewConfig applies functional options on top of
// DefaultConfig; LoadConfig reads the same fields from YAML. A connection
// copies its Config on creation.
package mqttclient
