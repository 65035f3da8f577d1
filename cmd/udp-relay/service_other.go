//go:build !windows

package main

import "github.com/wilsonzlin/aero/proxy/udp-relay/internal/config"

// runAsService reports false: only Windows has a service control manager to
// hand the process to.
func runAsService(config.Config) (bool, error) {
	return false, nil
}
