// Package ctlplane exposes the legacy bridge control surface over net/rpc on
// a Unix socket.
//
// Legacy tools hand the shim an ioctl-shaped request (a SIOC* code plus its
// positional arguments). The server runs it through compat.Service.Dispatch
// and returns the same Ret convention the kernel path would: a non-negative
// count on success, a negative errno on failure.
//
// The socket is group-accessible only. Requests that change bridges or ports
// also need an administrative peer uid (root, the server's user or a
// configured admin); others get EPERM. Reads are open to anyone who can
// connect.
//
// The CLI subcommands in cmd/ are the main clients. They use Client, which
// redials the socket once if the daemon restarted under it.
package ctlplane
