// Package node holds the identity a bank node presents to clients and peers.
package node

import (
	"fmt"
	"net"
	"strconv"
)

// FallbackAddress is used when no outbound interface can be found.
const FallbackAddress = "127.0.0.1"

// probeTarget is only used to pick the outbound interface; nothing is sent.
const probeTarget = "8.8.8.8:80"

// Identity is this node's address and service port. It never changes after
// startup.
type Identity struct {
	Address string
	Port    int
}

// Owns reports whether address names this node.
func (id Identity) Owns(address string) bool {
	return address == id.Address
}

// HostPort returns address:port.
func (id Identity) HostPort() string {
	return net.JoinHostPort(id.Address, strconv.Itoa(id.Port))
}

// String implements fmt.Stringer.
func (id Identity) String() string {
	return id.HostPort()
}

// DetectAddress returns the IPv4 address of the interface used for outbound
// traffic, or FallbackAddress. Dialing UDP does not send any packet.
func DetectAddress() string {
	conn, err := net.Dial("udp4", probeTarget)
	if err != nil {
		return FallbackAddress
	}
	defer conn.Close()

	addr, ok := conn.LocalAddr().(*net.UDPAddr)
	if !ok || addr.IP.To4() == nil {
		return FallbackAddress
	}
	return addr.IP.To4().String()
}

// Resolve returns an Identity using address when set, the detected address
// otherwise.
func Resolve(address string, port int) (Identity, error) {
	if port < 1 || port > 65535 {
		return Identity{}, fmt.Errorf("port %d out of range", port)
	}
	if address == "" {
		address = DetectAddress()
	}
	return Identity{Address: address, Port: port}, nil
}
