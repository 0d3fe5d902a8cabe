// Package config loads the shim's HCL configuration.
//
// A minimal file:
//
//	control {
//	  timeout = "5s"
//	}
//
//	transport {
//	  kind  = "udp"
//	  group = "239.255.66.1:6633"
//	}
//
// Every block is optional; missing blocks and attributes take the values of
// DefaultConfig. Expressions may call env("NAME", "fallback").
package config
