package core

import (
	"sort"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/avenko/huddle/internal/domain"
)

// roomImpl is a threadsafe in-memory room. The announce callbacks passed
// to Join/Leave run under the room lock; they must only build a frame.
type roomImpl struct {
	room *domain.Room
	mu   sync.Mutex
	byID map[domain.ParticipantID]MemberSession
}

func NewRoomService(room *domain.Room) RoomService {
	return &roomImpl{
		room: room,
		byID: make(map[domain.ParticipantID]MemberSession),
	}
}

func (r *roomImpl) Room() *domain.Room { return r.room }

func (r *roomImpl) MemberCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.byID)
}

func (r *roomImpl) Snapshot() []domain.ParticipantID {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.snapshotLocked("")
}

func (r *roomImpl) Member(id domain.ParticipantID) (MemberSession, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ms, ok := r.byID[id]
	return ms, ok
}

// snapshotLocked returns the current membership minus `skip`, sorted so
// snapshots are stable for callers and tests.
func (r *roomImpl) snapshotLocked(skip domain.ParticipantID) []domain.ParticipantID {
	out := make([]domain.ParticipantID, 0, len(r.byID))
	for id := range r.byID {
		if id == skip {
			continue
		}
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func (r *roomImpl) Join(ms MemberSession, announce func([]domain.ParticipantID) Frame) ([]domain.ParticipantID, PublishResult) {
	r.mu.Lock()
	defer r.mu.Unlock()

	id := ms.ID()
	existing := r.snapshotLocked("")
	r.byID[id] = ms

	var res PublishResult
	if announce != nil && len(existing) > 0 {
		frame := announce(r.snapshotLocked(""))
		res = r.fanoutLocked(id, frame)
	}
	log.Info().Str("module", "core.room").Str("room", string(r.room.ID)).Str("participant", string(id)).Msg("member joined")
	return existing, res
}

func (r *roomImpl) Leave(id domain.ParticipantID, announce func([]domain.ParticipantID) Frame) (bool, PublishResult, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.byID[id]; !ok {
		return len(r.byID) == 0, PublishResult{}, false
	}
	delete(r.byID, id)

	var res PublishResult
	if announce != nil && len(r.byID) > 0 {
		frame := announce(r.snapshotLocked(""))
		res = r.fanoutLocked("", frame)
	}
	log.Info().Str("module", "core.room").Str("room", string(r.room.ID)).Str("participant", string(id)).Msg("member left")
	return len(r.byID) == 0, res, true
}

func (r *roomImpl) Broadcast(from domain.ParticipantID, data Frame, includeSender bool) PublishResult {
	r.mu.Lock()
	defer r.mu.Unlock()
	skip := from
	if includeSender {
		skip = ""
	}
	return r.fanoutLocked(skip, data)
}

// fanoutLocked enqueues data to every member except skip ("" sends to all).
func (r *roomImpl) fanoutLocked(skip domain.ParticipantID, data Frame) PublishResult {
	res := PublishResult{}
	for id, m := range r.byID {
		if skip != "" && id == skip {
			continue
		}
		if err := m.Signal().TrySend(data); err != nil {
			res.Dropped = append(res.Dropped, id)
			continue
		}
		res.SentTo++
	}
	return res
}
