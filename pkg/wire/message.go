// Package wire defines the tagged-union Message type carried over a
// session, its length-prefixed framing, and its binary codec. Byte
// layout is this library's own concern, not an external interchange
// format; the only contract is that Decode(Encode(m)) is the identity
// and the kind discriminator is recoverable in O(1).
package wire

import (
	"github.com/adred-codev/entropysync/pkg/property"
	"github.com/adred-codev/entropysync/pkg/schema"
)

// Kind discriminates the Message tagged union. Matched explicitly at
// every call site rather than through virtual dispatch: the set of
// message kinds is closed and changes rarely, so a flat struct with
// one field per kind is cheaper to construct and inspect than an
// interface hierarchy.
type Kind uint8

const (
	KindHandshake Kind = iota
	KindEntityCreated
	KindEntityDestroyed
	KindPropertyUpdateBatch
	KindSceneSnapshotChunk
	KindSchemaAdvertisement
	KindSchemaNack
	KindRegisterSchema
	KindQueryPublicSchemas
	KindPublishSchema
	KindUnpublishSchema
	KindHeartbeat
)

func (k Kind) String() string {
	switch k {
	case KindHandshake:
		return "handshake"
	case KindEntityCreated:
		return "entity_created"
	case KindEntityDestroyed:
		return "entity_destroyed"
	case KindPropertyUpdateBatch:
		return "property_update_batch"
	case KindSceneSnapshotChunk:
		return "scene_snapshot_chunk"
	case KindSchemaAdvertisement:
		return "schema_advertisement"
	case KindSchemaNack:
		return "schema_nack"
	case KindRegisterSchema:
		return "register_schema"
	case KindQueryPublicSchemas:
		return "query_public_schemas"
	case KindPublishSchema:
		return "publish_schema"
	case KindUnpublishSchema:
		return "unpublish_schema"
	case KindHeartbeat:
		return "heartbeat"
	default:
		return "unknown"
	}
}

// Reliable reports whether this message kind is routed over the
// reliable channel. Only PropertyUpdateBatch travels unreliable: a
// dropped batch is superseded by the next flush, so retransmission
// would only add latency.
func (k Kind) Reliable() bool {
	return k != KindPropertyUpdateBatch
}

type HandshakeMsg struct {
	ClientType string
	ClientID   string
}

// PropertyMetadata describes a property carried alongside entity
// creation, so the peer can pre-seed its property registry.
type PropertyMetadata struct {
	Hash property.Hash
	Type property.Type
}

type EntityCreatedMsg struct {
	EntityID   uint64
	AppID      string
	TypeName   string
	ParentID   uint64
	Properties []PropertyMetadata
}

type EntityDestroyedMsg struct {
	EntityID uint64
}

// BatchedUpdate is one (hash, value) pair inside a batch.
type BatchedUpdate struct {
	Hash  property.Hash
	Value property.Value
}

type PropertyUpdateBatchMsg struct {
	TimestampMicros int64
	Sequence        uint32
	Updates         []BatchedUpdate
}

type SceneSnapshotChunkMsg struct {
	SnapshotID uint64
	ChunkIndex uint32
	ChunkCount uint32
	Compressed bool
	Data       []byte
}

type SchemaAdvertisementMsg struct {
	TypeHash      schema.TypeHash
	AppID         string
	ComponentName string
	SchemaVersion uint32
}

type SchemaNackMsg struct {
	TypeHash  schema.TypeHash
	Reason    string
	Timestamp int64
}

// SchemaFieldDescriptor is one field in a RegisterSchema payload.
type SchemaFieldDescriptor struct {
	Name string
	Type property.Type
}

type RegisterSchemaMsg struct {
	TypeHash      schema.TypeHash
	AppID         string
	ComponentName string
	SchemaVersion uint32
	Visibility    schema.Visibility
	Fields        []SchemaFieldDescriptor
}

type QueryPublicSchemasMsg struct{}

type PublishSchemaMsg struct {
	TypeHash schema.TypeHash
}

type UnpublishSchemaMsg struct {
	TypeHash schema.TypeHash
}

type HeartbeatMsg struct {
	Timestamp int64
}

// Message is the tagged union over every protocol message this
// library understands. Exactly one of the typed fields is populated,
// selected by Kind.
type Message struct {
	Kind Kind

	Handshake           HandshakeMsg
	EntityCreated       EntityCreatedMsg
	EntityDestroyed     EntityDestroyedMsg
	PropertyUpdateBatch PropertyUpdateBatchMsg
	SceneSnapshotChunk  SceneSnapshotChunkMsg
	SchemaAdvertisement SchemaAdvertisementMsg
	SchemaNack          SchemaNackMsg
	RegisterSchema      RegisterSchemaMsg
	QueryPublicSchemas  QueryPublicSchemasMsg
	PublishSchema       PublishSchemaMsg
	UnpublishSchema     UnpublishSchemaMsg
	Heartbeat           HeartbeatMsg
}
