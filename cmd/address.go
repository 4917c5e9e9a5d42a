// Package main provides CLI commands for the foodie-sync host.
// This file centralizes address selection for local CLI commands.
package main

import (
	"net"
	"strings"
)

// GetPreferredOutboundIP returns the LAN IP the OS would use for outbound
// traffic. No packets are sent; the UDP "dial" only asks the kernel to
// pick a route. Returns "" if no route is available.
func GetPreferredOutboundIP() string {
	conn, err := net.Dial("udp", "8.8.8.8:80")
	if err != nil {
		return ""
	}
	defer conn.Close()

	localAddr, ok := conn.LocalAddr().(*net.UDPAddr)
	if !ok {
		return ""
	}
	return localAddr.IP.String()
}

// displayAddr picks the address to show on pairing screens: the
// configured address with any wildcard host replaced by the LAN IP, so a
// phone can actually reach it.
func displayAddr(configured string) string {
	host, port, err := net.SplitHostPort(configured)
	if err != nil {
		return configured
	}
	if host == "" || host == "0.0.0.0" || host == "::" {
		if ip := GetPreferredOutboundIP(); ip != "" {
			host = ip
		} else {
			host = "127.0.0.1"
		}
	}
	return net.JoinHostPort(host, port)
}

// localAPIAddr converts a listen address into the loopback address the
// CLI uses to reach its own running host.
func localAPIAddr(configured string) string {
	_, port, err := net.SplitHostPort(configured)
	if err != nil {
		if strings.Contains(configured, ":") {
			return configured
		}
		return "127.0.0.1:8765"
	}
	return net.JoinHostPort("127.0.0.1", port)
}
