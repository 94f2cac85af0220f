package peercmd

import (
	"fmt"
	"net"
	"strconv"
	"strings"
)

// ppv1Header is the parsed form of a PROXY protocol v1 header line, sent by
// a load balancer immediately after connecting so the far-side client's real
// address survives the hop.
type ppv1Header struct {
	protocol string
	srcIP    net.IP
	dstIP    net.IP
	srcPort  uint16
	dstPort  uint16
}

// parsePPv1Header reports whether line is a well-formed PROXY protocol v1
// header ("PROXY TCP4 <src> <dst> <srcPort> <dstPort>"); non-matching input
// (an ordinary first command line) is reported as ok == false, not an error.
func parsePPv1Header(line string) (ppv1Header, bool) {
	if !strings.HasPrefix(line, "PROXY ") {
		return ppv1Header{}, false
	}

	parts := strings.Fields(line)
	if len(parts) != 6 {
		return ppv1Header{}, false
	}

	protocol := strings.ToLower(parts[1])
	if protocol != "tcp4" && protocol != "tcp6" && protocol != "unknown" {
		return ppv1Header{}, false
	}

	srcIP := net.ParseIP(parts[2])
	dstIP := net.ParseIP(parts[3])
	if srcIP == nil || dstIP == nil {
		return ppv1Header{}, false
	}

	srcPort, err := strconv.ParseUint(parts[4], 10, 16)
	if err != nil {
		return ppv1Header{}, false
	}
	dstPort, err := strconv.ParseUint(parts[5], 10, 16)
	if err != nil {
		return ppv1Header{}, false
	}

	return ppv1Header{
		protocol: protocol,
		srcIP:    srcIP,
		dstIP:    dstIP,
		srcPort:  uint16(srcPort),
		dstPort:  uint16(dstPort),
	}, true
}

func (h ppv1Header) String() string {
	return fmt.Sprintf("PROXY %s %s %s %d %d", h.protocol, h.srcIP, h.dstIP, h.srcPort, h.dstPort)
}
