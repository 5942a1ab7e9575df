// Package mqtt mirrors the thinking loop onto an MQTT broker. Every
// event published on the host's bus is forwarded as JSON to
// <prefix>/events, and plain-text messages arriving on <prefix>/input
// are handed to the loop's input queue like any other stimulus.
//
// The publisher uses Eclipse Paho v2's [autopaho] package for
// connection management with automatic reconnection. On every
// (re-)connect it publishes a retained birth message ("online") to
// <prefix>/availability and re-subscribes to the input topic. A will
// message moves the availability topic to "offline" on unexpected
// disconnects.
package mqtt
