// Package domain contains entities without logic, just meta-data.
package domain

// RoomID is an opaque identifier chosen by whoever creates the room link.
// The server never generates these; it only keys rooms by them.
type RoomID string

type Room struct {
	ID RoomID
}
