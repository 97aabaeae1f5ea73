package chathub

import "handoffdesk/backend/internal/models"

// Client is the interface for one realtime connection of a user widget or an
// admin dashboard.
type Client interface {
	// Participant returns who is on the other end of the connection.
	Participant() models.Participant

	// GetSendChannel returns the channel the hub writes events to.
	GetSendChannel() chan<- models.Event

	// Run starts the client's pumps.
	Run()
	// Close shuts down the send side; the hub calls it exactly once.
	Close()
}
