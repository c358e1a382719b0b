// Package live pushes the outcome of each watch cycle to WebSocket clients.
package live
