package domain

// ParticipantID is assigned by the server, one per signaling connection.
type ParticipantID string

type Participant struct {
	ID ParticipantID `json:"id"`
}
