// Package mqtt provides the publish-only broker client behind the
// optional alert bridge. Connection loss is handled with automatic
// reconnection; a Last Will message lets subscribers distinguish a
// crash from a graceful shutdown.
package mqtt
