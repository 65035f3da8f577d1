// Package relay forwards UDP datagrams between endpoints.
//
// An Engine runs forwarding directions: each binds a listen endpoint and
// sends every datagram it receives to one fixed target from that same socket.
// Two opposing directions form a full-duplex relay between a client and a
// server. Directions share a single cancellation scope that StopRelaying
// fires before joining them.
//
// Blocking socket calls have no native cancellation, so cancellation closes
// the socket a call is parked on. See withCancellation.
package relay
