package packet

import "encoding/binary"

const (
	KindSpawnEntity Kind = iota
	KindDespawnEntity
	KindMoveEntity
	KindUpdateHealth
)

const (
	SpawnEntitySize   = 17 // id(4) + kind(1) + max health(2) + health(2) + pos(8)
	DespawnEntitySize = 4  // id(4)
	MoveEntitySize    = 12 // id(4) + pos(8)
	UpdateHealthSize  = 8  // id(4) + max health(2) + health(2)
)

func init() {
	Register(KindSpawnEntity, "spawn_entity", SpawnEntitySize, decodeSpawnEntity)
	Register(KindDespawnEntity, "despawn_entity", DespawnEntitySize, decodeDespawnEntity)
	Register(KindMoveEntity, "move_entity", MoveEntitySize, decodeMoveEntity)
	Register(KindUpdateHealth, "update_health", UpdateHealthSize, decodeUpdateHealth)
}

// SpawnEntity tells a peer that an entity entered the world. Later packets
// reference the entity by EntityID only.
type SpawnEntity struct {
	EntityID uint32
	// EntityKind selects what gets spawned.
	EntityKind uint8
	// MaxHealth is sent because it may vary between entities of the same kind.
	MaxHealth uint16
	Health    uint16
	Position  Vector2
}

func (SpawnEntity) Kind() Kind { return KindSpawnEntity }

func (p SpawnEntity) AppendPayload(b []byte) []byte {
	b = binary.BigEndian.AppendUint32(b, p.EntityID)
	b = append(b, p.EntityKind)
	b = binary.BigEndian.AppendUint16(b, p.MaxHealth)
	b = binary.BigEndian.AppendUint16(b, p.Health)
	return p.Position.appendTo(b)
}

func decodeSpawnEntity(b []byte) Packet {
	return SpawnEntity{
		EntityID:   binary.BigEndian.Uint32(b[0:4]),
		EntityKind: b[4],
		MaxHealth:  binary.BigEndian.Uint16(b[5:7]),
		Health:     binary.BigEndian.Uint16(b[7:9]),
		Position:   readVector2(b[9:17]),
	}
}

// DespawnEntity removes an entity from the world.
type DespawnEntity struct {
	EntityID uint32
}

func (DespawnEntity) Kind() Kind { return KindDespawnEntity }

func (p DespawnEntity) AppendPayload(b []byte) []byte {
	return binary.BigEndian.AppendUint32(b, p.EntityID)
}

func decodeDespawnEntity(b []byte) Packet {
	return DespawnEntity{EntityID: binary.BigEndian.Uint32(b)}
}

// MoveEntity sets the absolute position of an entity.
type MoveEntity struct {
	EntityID uint32
	Position Vector2
}

func (MoveEntity) Kind() Kind { return KindMoveEntity }

func (p MoveEntity) AppendPayload(b []byte) []byte {
	b = binary.BigEndian.AppendUint32(b, p.EntityID)
	return p.Position.appendTo(b)
}

func decodeMoveEntity(b []byte) Packet {
	return MoveEntity{
		EntityID: binary.BigEndian.Uint32(b[0:4]),
		Position: readVector2(b[4:12]),
	}
}

// UpdateHealth reports an entity's health after damage or healing.
type UpdateHealth struct {
	EntityID  uint32
	MaxHealth uint16
	Health    uint16
}

func (UpdateHealth) Kind() Kind { return KindUpdateHealth }

func (p UpdateHealth) AppendPayload(b []byte) []byte {
	b = binary.BigEndian.AppendUint32(b, p.EntityID)
	b = binary.BigEndian.AppendUint16(b, p.MaxHealth)
	return binary.BigEndian.AppendUint16(b, p.Health)
}

func decodeUpdateHealth(b []byte) Packet {
	return UpdateHealth{
		EntityID:  binary.BigEndian.Uint32(b[0:4]),
		MaxHealth: binary.BigEndian.Uint16(b[4:6]),
		Health:    binary.BigEndian.Uint16(b[6:8]),
	}
}
