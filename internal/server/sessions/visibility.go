package sessions

import (
	"slices"

	"ticksync.dev/internal/protocol"
	"ticksync.dev/internal/slots"
)

type pendingPacket struct {
	entities []uint32
	msg      protocol.Message
}

// Visibility tracks which entities a session's client has been told about
// and holds entity packets until the client knows every entity they name.
type Visibility struct {
	known      *slots.Map[uint64]
	generation uint64
	pending    []pendingPacket
}

func NewVisibility() *Visibility {
	return &Visibility{known: slots.New[uint64](64)}
}

func (v *Visibility) Len() int { return v.known.Len() }

func (v *Visibility) Knows(id uint32) bool { return v.known.Has(uint64(id)) }

// Update replaces the known set with visible and returns the ids the client
// has to create and the ids it has to delete, both ascending.
func (v *Visibility) Update(visible []uint32) (appeared, vanished []uint32) {
	v.generation++
	gen := v.generation
	for _, id := range visible {
		if !v.known.Has(uint64(id)) {
			appeared = append(appeared, id)
		}
		v.known.Put(uint64(id), gen)
	}
	v.known.Range(func(key uint64, seen uint64) bool {
		if seen != gen {
			vanished = append(vanished, uint32(key))
			v.known.Delete(key)
		}
		return true
	})
	slices.Sort(appeared)
	slices.Sort(vanished)
	return appeared, vanished
}

// Push queues msg until every entity in ids is known to the client.
func (v *Visibility) Push(ids []uint32, msg protocol.Message) {
	v.pending = append(v.pending, pendingPacket{entities: slices.Clone(ids), msg: msg})
}

func (v *Visibility) Pending() int { return len(v.pending) }

// Flush returns the queued packets whose entities are all known, in push
// order. Packets naming an entity the client does not know are dropped.
func (v *Visibility) Flush() []protocol.Message {
	if len(v.pending) == 0 {
		return nil
	}
	out := make([]protocol.Message, 0, len(v.pending))
	for _, p := range v.pending {
		if v.knowsAll(p.entities) {
			out = append(out, p.msg)
		}
	}
	clear(v.pending)
	v.pending = v.pending[:0]
	return out
}

// Release forgets every known entity and queued packet.
func (v *Visibility) Release() {
	v.known.Clear()
	clear(v.pending)
	v.pending = nil
}

func (v *Visibility) knowsAll(ids []uint32) bool {
	for _, id := range ids {
		if !v.known.Has(uint64(id)) {
			return false
		}
	}
	return true
}
