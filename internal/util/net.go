package util

import "net"

// LocalIP returns the outbound IPv4 address of this host by opening a
// UDP socket toward a public address. No packets are sent. Falls back to
// the loopback address when no route exists.
func LocalIP() string {
	conn, err := net.Dial("udp", "8.8.8.8:80")
	if err != nil {
		return "127.0.0.1"
	}
	defer conn.Close()

	addr, ok := conn.LocalAddr().(*net.UDPAddr)
	if !ok {
		return "127.0.0.1"
	}
	return addr.IP.String()
}
