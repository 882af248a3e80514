//go:build !unix

package jamn

import "net"

func listenConfig() net.ListenConfig {
	return net.ListenConfig{}
}
