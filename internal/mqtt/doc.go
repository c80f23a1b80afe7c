// Package mqtt mirrors the connection bridge onto an MQTT broker.
//
// The publisher uses Eclipse Paho v2's [autopaho] package for
// connection management with automatic reconnection. On every
// (re-)connect it publishes retained Home Assistant discovery configs
// for the bridge sensors and a birth message ("online") to the
// availability topic. A will message flips availability to "offline"
// on unexpected disconnects. Bridge state is republished, retained, on
// every status change and on a fixed interval.
//
// When prompts are accepted, payloads published to the send topic are
// forwarded through the bridge, so they are queued while the backend
// is down like any other prompt, and answers are published to the
// reply topic.
package mqtt
