package imapclient

import "net"

// bridgeWellKnownPorts are the ports a real mail server is expected to speak
// IMAP on. A local bridge (ProtonMail Bridge and similar) always listens on
// something else.
var bridgeWellKnownPorts = map[int]bool{143: true, 993: true}

// isLocalBridge is the detection heuristic: host is loopback or RFC1918
// and the port is not a well-known IMAP port. It is best-effort — a
// misdetection only enables an idempotent write-path transform, never
// changes read behavior or correctness.
func isLocalBridge(host string, port int) bool {
	if bridgeWellKnownPorts[port] {
		return false
	}
	if host == "localhost" {
		return true
	}
	ip := net.ParseIP(host)
	if ip == nil {
		return false
	}
	if ip.IsLoopback() {
		return true
	}
	for _, cidr := range []string{"10.0.0.0/8", "172.16.0.0/12", "192.168.0.0/16"} {
		_, block, err := net.ParseCIDR(cidr)
		if err == nil && block.Contains(ip) {
			return true
		}
	}
	return false
}
