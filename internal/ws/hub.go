package ws

import (
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/zaqqye/bustrack/internal/metrics"
)

// Subscriber is one live connection as seen by the Hub.
type Subscriber interface {
	// Send queues payload without blocking. It reports false when the
	// subscriber cannot take it.
	Send(payload []byte) bool
	Close()
}

// closer is implemented by subscribers that can report being shut down.
// The Hub refuses to add them to rooms once closed.
type closer interface {
	Closed() bool
}

type room struct {
	mu      sync.Mutex
	members map[Subscriber]struct{}
	// dead is set once the room is unlinked from the Hub; a joiner that
	// raced with the unlink retries on a fresh room.
	dead bool
}

// membership is the set of rooms one subscriber is in.
type membership struct {
	mu    sync.Mutex
	rooms map[uint]struct{}
	gone  bool
}

// Hub groups subscribers into per-bus rooms and fans events out to them.
// The registry lock is held only to find, create or unlink a room. Joins,
// leaves and publishes on a room serialize on that room's own lock, and a
// subscriber's room set is guarded by its own lock.
//
// Lock order: membership.mu, then Hub.mu, then room.mu.
type Hub struct {
	mu     sync.RWMutex
	rooms  map[uint]*room
	closed bool

	subs sync.Map // Subscriber -> *membership
}

func NewHub() *Hub {
	return &Hub{rooms: make(map[uint]*room)}
}

// room returns busID's room, creating it when create is set. It returns nil
// when the room does not exist or the Hub is closed.
func (h *Hub) room(busID uint, create bool) *room {
	h.mu.RLock()
	r, ok := h.rooms[busID]
	closed := h.closed
	h.mu.RUnlock()
	if ok || closed || !create {
		return r
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil
	}
	if r, ok = h.rooms[busID]; !ok {
		r = &room{members: make(map[Subscriber]struct{})}
		h.rooms[busID] = r
		metrics.ActiveRooms.Inc()
	}
	return r
}

// unlink drops r from the registry if it is still empty.
func (h *Hub) unlink(busID uint, r *room) {
	h.mu.Lock()
	defer h.mu.Unlock()
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.dead || len(r.members) > 0 || h.rooms[busID] != r {
		return
	}
	r.dead = true
	delete(h.rooms, busID)
	metrics.ActiveRooms.Dec()
}

// Join adds sub to busID's room and reports whether it is now a member.
// Joining twice is the same as joining once. It returns false once the Hub
// or the subscriber has been closed.
func (h *Hub) Join(sub Subscriber, busID uint) bool {
	v, _ := h.subs.LoadOrStore(sub, &membership{rooms: make(map[uint]struct{})})
	m := v.(*membership)
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.gone {
		return false
	}
	if c, ok := sub.(closer); ok && c.Closed() {
		h.forget(sub, m)
		return false
	}

	for {
		r := h.room(busID, true)
		if r == nil {
			h.forget(sub, m)
			return false
		}
		r.mu.Lock()
		if r.dead {
			r.mu.Unlock()
			continue
		}
		r.members[sub] = struct{}{}
		r.mu.Unlock()
		break
	}
	m.rooms[busID] = struct{}{}
	return true
}

// forget drops an empty membership so closed subscribers do not pile up.
// m.mu must be held.
func (h *Hub) forget(sub Subscriber, m *membership) {
	if len(m.rooms) == 0 {
		m.gone = true
		h.subs.CompareAndDelete(sub, m)
	}
}

// Leave removes sub from busID's room. Leaving a room not joined is a no-op.
func (h *Hub) Leave(sub Subscriber, busID uint) {
	v, ok := h.subs.Load(sub)
	if !ok {
		return
	}
	m := v.(*membership)
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, in := m.rooms[busID]; !in {
		return
	}
	delete(m.rooms, busID)
	h.remove(sub, busID)
}

// Disconnect removes sub from every room it is in.
func (h *Hub) Disconnect(sub Subscriber) {
	v, ok := h.subs.Load(sub)
	if !ok {
		return
	}
	m := v.(*membership)
	m.mu.Lock()
	defer m.mu.Unlock()
	for busID := range m.rooms {
		h.remove(sub, busID)
	}
	m.rooms = make(map[uint]struct{})
	m.gone = true
	h.subs.CompareAndDelete(sub, m)
}

func (h *Hub) remove(sub Subscriber, busID uint) {
	r := h.room(busID, false)
	if r == nil {
		return
	}
	r.mu.Lock()
	delete(r.members, sub)
	empty := len(r.members) == 0
	r.mu.Unlock()
	if empty {
		h.unlink(busID, r)
	}
}

// Publish delivers evt to every current member of busID's room and returns
// how many accepted it. Members whose queue is full are closed and then
// disconnected.
func (h *Hub) Publish(busID uint, evt LocationEvent) int {
	payload, err := encode(EventLocation, evt)
	if err != nil {
		log.Error().Err(err).Uint("bus_id", busID).Msg("ws: encode location-update failed")
		return 0
	}
	metrics.EventsPublished.Inc()

	r := h.room(busID, false)
	if r == nil {
		return 0
	}

	var slow []Subscriber
	delivered := 0
	r.mu.Lock()
	for sub := range r.members {
		if sub.Send(payload) {
			delivered++
		} else {
			slow = append(slow, sub)
		}
	}
	r.mu.Unlock()
	metrics.EventsDelivered.Add(float64(delivered))

	for _, sub := range slow {
		// closed first, so a join already queued on its read pump is refused
		sub.Close()
		h.Disconnect(sub)
		metrics.SubscribersDropped.Inc()
		log.Warn().Uint("bus_id", busID).Msg("ws: dropped slow subscriber")
	}
	return delivered
}

// Rooms lists the bus ids sub is subscribed to.
func (h *Hub) Rooms(sub Subscriber) []uint {
	v, ok := h.subs.Load(sub)
	if !ok {
		return []uint{}
	}
	m := v.(*membership)
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]uint, 0, len(m.rooms))
	for busID := range m.rooms {
		out = append(out, busID)
	}
	return out
}

// Members returns the number of subscribers in busID's room.
func (h *Hub) Members(busID uint) int {
	r := h.room(busID, false)
	if r == nil {
		return 0
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.members)
}

// Close empties every room and closes all subscribers. Later joins fail.
func (h *Hub) Close() {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	h.closed = true
	rooms := h.rooms
	h.rooms = make(map[uint]*room)
	metrics.ActiveRooms.Sub(float64(len(rooms)))
	h.mu.Unlock()

	seen := make(map[Subscriber]struct{})
	for _, r := range rooms {
		r.mu.Lock()
		r.dead = true
		for sub := range r.members {
			seen[sub] = struct{}{}
		}
		r.members = make(map[Subscriber]struct{})
		r.mu.Unlock()
	}
	for sub := range seen {
		sub.Close()
		h.Disconnect(sub)
	}
}
