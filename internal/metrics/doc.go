// Package metrics exposes the Prometheus collectors used by shopchat.
//
// Collectors are registered with the default registry at init, so the
// gateway serves them through promhttp.Handler on the configured path.
package metrics
