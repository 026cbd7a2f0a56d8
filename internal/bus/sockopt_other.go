//go:build !(linux || darwin || freebsd || netbsd || openbsd)

package bus

import "net"

// listenConfig falls back to default socket options. Port sharing with other
// bus tools is unavailable on these platforms.
func listenConfig() net.ListenConfig { return net.ListenConfig{} }
