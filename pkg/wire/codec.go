package wire

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"math"

	"github.com/adred-codev/entropysync/pkg/property"
	"github.com/adred-codev/entropysync/pkg/schema"
)

// writer accumulates an encoded payload. Every primitive is fixed
// width or length-prefixed so Decode can recover it unambiguously.
type writer struct {
	buf bytes.Buffer
}

func (w *writer) u8(v uint8)   { w.buf.WriteByte(v) }
func (w *writer) u32(v uint32) { _ = binary.Write(&w.buf, binary.BigEndian, v) }
func (w *writer) u64(v uint64) { _ = binary.Write(&w.buf, binary.BigEndian, v) }
func (w *writer) i64(v int64)  { _ = binary.Write(&w.buf, binary.BigEndian, v) }
func (w *writer) f32(v float32) {
	_ = binary.Write(&w.buf, binary.BigEndian, v)
}
func (w *writer) f64(v float64) {
	_ = binary.Write(&w.buf, binary.BigEndian, v)
}
func (w *writer) boolean(v bool) {
	if v {
		w.u8(1)
	} else {
		w.u8(0)
	}
}
func (w *writer) str(s string) {
	w.u32(uint32(len(s)))
	w.buf.WriteString(s)
}
func (w *writer) bytes(b []byte) {
	w.u32(uint32(len(b)))
	w.buf.Write(b)
}
func (w *writer) hash16(h [16]byte) { w.buf.Write(h[:]) }

func (w *writer) propertyValue(v property.Value) {
	w.u8(uint8(v.Type))
	switch v.Type {
	case property.TypeInt32:
		_ = binary.Write(&w.buf, binary.BigEndian, v.Int32)
	case property.TypeInt64:
		w.i64(v.Int64)
	case property.TypeFloat32:
		w.f32(v.Float32)
	case property.TypeFloat64:
		w.f64(v.Float64)
	case property.TypeVec2:
		w.f32(v.Vec2.X)
		w.f32(v.Vec2.Y)
	case property.TypeVec3:
		w.f32(v.Vec3.X)
		w.f32(v.Vec3.Y)
		w.f32(v.Vec3.Z)
	case property.TypeVec4:
		w.f32(v.Vec4.X)
		w.f32(v.Vec4.Y)
		w.f32(v.Vec4.Z)
		w.f32(v.Vec4.W)
	case property.TypeQuat:
		w.f32(v.Quat.X)
		w.f32(v.Quat.Y)
		w.f32(v.Quat.Z)
		w.f32(v.Quat.W)
	case property.TypeString:
		w.str(v.Str)
	case property.TypeBool:
		w.boolean(v.Bool)
	case property.TypeBytes:
		w.bytes(v.Bytes)
	}
}

// reader walks a decode buffer, returning DeserializationFailed-style
// errors on truncation rather than panicking.
type reader struct {
	buf []byte
	pos int
}

func (r *reader) remaining() int { return len(r.buf) - r.pos }

func (r *reader) u8() (uint8, error) {
	if r.remaining() < 1 {
		return 0, io.ErrUnexpectedEOF
	}
	v := r.buf[r.pos]
	r.pos++
	return v, nil
}

func (r *reader) need(n int) ([]byte, error) {
	if r.remaining() < n {
		return nil, io.ErrUnexpectedEOF
	}
	b := r.buf[r.pos : r.pos+n]
	r.pos += n
	return b, nil
}

func (r *reader) u32() (uint32, error) {
	b, err := r.need(4)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(b), nil
}

func (r *reader) u64() (uint64, error) {
	b, err := r.need(8)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint64(b), nil
}

func (r *reader) i64() (int64, error) {
	v, err := r.u64()
	return int64(v), err
}

func (r *reader) f32() (float32, error) {
	b, err := r.need(4)
	if err != nil {
		return 0, err
	}
	bits := binary.BigEndian.Uint32(b)
	return math.Float32frombits(bits), nil
}

func (r *reader) f64() (float64, error) {
	b, err := r.need(8)
	if err != nil {
		return 0, err
	}
	bits := binary.BigEndian.Uint64(b)
	return math.Float64frombits(bits), nil
}

func (r *reader) boolean() (bool, error) {
	v, err := r.u8()
	return v != 0, err
}

func (r *reader) str() (string, error) {
	n, err := r.u32()
	if err != nil {
		return "", err
	}
	b, err := r.need(int(n))
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func (r *reader) bytesField() ([]byte, error) {
	n, err := r.u32()
	if err != nil {
		return nil, err
	}
	b, err := r.need(int(n))
	if err != nil {
		return nil, err
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out, nil
}

func (r *reader) hash16() ([16]byte, error) {
	var h [16]byte
	b, err := r.need(16)
	if err != nil {
		return h, err
	}
	copy(h[:], b)
	return h, nil
}

func (r *reader) propertyValue() (property.Value, error) {
	tb, err := r.u8()
	if err != nil {
		return property.Value{}, err
	}
	t := property.Type(tb)
	switch t {
	case property.TypeInt32:
		b, err := r.need(4)
		if err != nil {
			return property.Value{}, err
		}
		return property.Int32Value(int32(binary.BigEndian.Uint32(b))), nil
	case property.TypeInt64:
		v, err := r.i64()
		return property.Int64Value(v), err
	case property.TypeFloat32:
		v, err := r.f32()
		return property.Float32Value(v), err
	case property.TypeFloat64:
		v, err := r.f64()
		return property.Float64Value(v), err
	case property.TypeVec2:
		x, err := r.f32()
		if err != nil {
			return property.Value{}, err
		}
		y, err := r.f32()
		if err != nil {
			return property.Value{}, err
		}
		return property.Vec2Value(property.Vec2{X: x, Y: y}), nil
	case property.TypeVec3:
		x, err := r.f32()
		if err != nil {
			return property.Value{}, err
		}
		y, err := r.f32()
		if err != nil {
			return property.Value{}, err
		}
		z, err := r.f32()
		if err != nil {
			return property.Value{}, err
		}
		return property.Vec3Value(property.Vec3{X: x, Y: y, Z: z}), nil
	case property.TypeVec4:
		x, err := r.f32()
		if err != nil {
			return property.Value{}, err
		}
		y, err := r.f32()
		if err != nil {
			return property.Value{}, err
		}
		z, err := r.f32()
		if err != nil {
			return property.Value{}, err
		}
		w, err := r.f32()
		if err != nil {
			return property.Value{}, err
		}
		return property.Vec4Value(property.Vec4{X: x, Y: y, Z: z, W: w}), nil
	case property.TypeQuat:
		x, err := r.f32()
		if err != nil {
			return property.Value{}, err
		}
		y, err := r.f32()
		if err != nil {
			return property.Value{}, err
		}
		z, err := r.f32()
		if err != nil {
			return property.Value{}, err
		}
		w, err := r.f32()
		if err != nil {
			return property.Value{}, err
		}
		return property.QuatValue(property.Quat{X: x, Y: y, Z: z, W: w}), nil
	case property.TypeString:
		v, err := r.str()
		return property.StringValue(v), err
	case property.TypeBool:
		v, err := r.boolean()
		return property.BoolValue(v), err
	case property.TypeBytes:
		v, err := r.bytesField()
		return property.BytesValue(v), err
	default:
		return property.Value{}, fmt.Errorf("wire: unknown property type tag %d", tb)
	}
}

// Encode serializes a Message to its on-wire byte representation: a
// one-byte Kind tag followed by the kind-specific payload. This does
// not include the 4-byte frame length prefix — see FrameMessage.
func Encode(m Message) ([]byte, error) {
	w := &writer{}
	w.u8(uint8(m.Kind))

	switch m.Kind {
	case KindHandshake:
		w.str(m.Handshake.ClientType)
		w.str(m.Handshake.ClientID)
	case KindEntityCreated:
		w.u64(m.EntityCreated.EntityID)
		w.str(m.EntityCreated.AppID)
		w.str(m.EntityCreated.TypeName)
		w.u64(m.EntityCreated.ParentID)
		w.u32(uint32(len(m.EntityCreated.Properties)))
		for _, p := range m.EntityCreated.Properties {
			w.hash16(p.Hash)
			w.u8(uint8(p.Type))
		}
	case KindEntityDestroyed:
		w.u64(m.EntityDestroyed.EntityID)
	case KindPropertyUpdateBatch:
		w.i64(m.PropertyUpdateBatch.TimestampMicros)
		w.u32(m.PropertyUpdateBatch.Sequence)
		w.u32(uint32(len(m.PropertyUpdateBatch.Updates)))
		for _, u := range m.PropertyUpdateBatch.Updates {
			w.hash16(u.Hash)
			w.propertyValue(u.Value)
		}
	case KindSceneSnapshotChunk:
		w.u64(m.SceneSnapshotChunk.SnapshotID)
		w.u32(m.SceneSnapshotChunk.ChunkIndex)
		w.u32(m.SceneSnapshotChunk.ChunkCount)
		w.boolean(m.SceneSnapshotChunk.Compressed)
		w.bytes(m.SceneSnapshotChunk.Data)
	case KindSchemaAdvertisement:
		w.hash16(m.SchemaAdvertisement.TypeHash)
		w.str(m.SchemaAdvertisement.AppID)
		w.str(m.SchemaAdvertisement.ComponentName)
		w.u32(m.SchemaAdvertisement.SchemaVersion)
	case KindSchemaNack:
		w.hash16(m.SchemaNack.TypeHash)
		w.str(m.SchemaNack.Reason)
		w.i64(m.SchemaNack.Timestamp)
	case KindRegisterSchema:
		rs := m.RegisterSchema
		w.hash16(rs.TypeHash)
		w.str(rs.AppID)
		w.str(rs.ComponentName)
		w.u32(rs.SchemaVersion)
		w.u8(uint8(rs.Visibility))
		w.u32(uint32(len(rs.Fields)))
		for _, f := range rs.Fields {
			w.str(f.Name)
			w.u8(uint8(f.Type))
		}
	case KindQueryPublicSchemas:
		// no payload
	case KindPublishSchema:
		w.hash16(m.PublishSchema.TypeHash)
	case KindUnpublishSchema:
		w.hash16(m.UnpublishSchema.TypeHash)
	case KindHeartbeat:
		w.i64(m.Heartbeat.Timestamp)
	default:
		return nil, fmt.Errorf("wire: unknown message kind %d", m.Kind)
	}

	return w.buf.Bytes(), nil
}

// Decode is the inverse of Encode. It never panics on malformed or
// truncated input; it returns an error instead, matching spec §7's
// "malformed messages... never drop the connection" requirement one
// layer up in session.Session.
func Decode(data []byte) (Message, error) {
	r := &reader{buf: data}
	kb, err := r.u8()
	if err != nil {
		return Message{}, err
	}
	k := Kind(kb)

	var m Message
	m.Kind = k

	switch k {
	case KindHandshake:
		ct, err := r.str()
		if err != nil {
			return Message{}, err
		}
		cid, err := r.str()
		if err != nil {
			return Message{}, err
		}
		m.Handshake = HandshakeMsg{ClientType: ct, ClientID: cid}
	case KindEntityCreated:
		eid, err := r.u64()
		if err != nil {
			return Message{}, err
		}
		app, err := r.str()
		if err != nil {
			return Message{}, err
		}
		tn, err := r.str()
		if err != nil {
			return Message{}, err
		}
		pid, err := r.u64()
		if err != nil {
			return Message{}, err
		}
		n, err := r.u32()
		if err != nil {
			return Message{}, err
		}
		props := make([]PropertyMetadata, 0, n)
		for i := uint32(0); i < n; i++ {
			h, err := r.hash16()
			if err != nil {
				return Message{}, err
			}
			tb, err := r.u8()
			if err != nil {
				return Message{}, err
			}
			props = append(props, PropertyMetadata{Hash: property.Hash(h), Type: property.Type(tb)})
		}
		m.EntityCreated = EntityCreatedMsg{EntityID: eid, AppID: app, TypeName: tn, ParentID: pid, Properties: props}
	case KindEntityDestroyed:
		eid, err := r.u64()
		if err != nil {
			return Message{}, err
		}
		m.EntityDestroyed = EntityDestroyedMsg{EntityID: eid}
	case KindPropertyUpdateBatch:
		ts, err := r.i64()
		if err != nil {
			return Message{}, err
		}
		seq, err := r.u32()
		if err != nil {
			return Message{}, err
		}
		n, err := r.u32()
		if err != nil {
			return Message{}, err
		}
		updates := make([]BatchedUpdate, 0, n)
		for i := uint32(0); i < n; i++ {
			h, err := r.hash16()
			if err != nil {
				return Message{}, err
			}
			v, err := r.propertyValue()
			if err != nil {
				return Message{}, err
			}
			updates = append(updates, BatchedUpdate{Hash: property.Hash(h), Value: v})
		}
		m.PropertyUpdateBatch = PropertyUpdateBatchMsg{TimestampMicros: ts, Sequence: seq, Updates: updates}
	case KindSceneSnapshotChunk:
		sid, err := r.u64()
		if err != nil {
			return Message{}, err
		}
		idx, err := r.u32()
		if err != nil {
			return Message{}, err
		}
		cnt, err := r.u32()
		if err != nil {
			return Message{}, err
		}
		compressed, err := r.boolean()
		if err != nil {
			return Message{}, err
		}
		data, err := r.bytesField()
		if err != nil {
			return Message{}, err
		}
		m.SceneSnapshotChunk = SceneSnapshotChunkMsg{SnapshotID: sid, ChunkIndex: idx, ChunkCount: cnt, Compressed: compressed, Data: data}
	case KindSchemaAdvertisement:
		h, err := r.hash16()
		if err != nil {
			return Message{}, err
		}
		app, err := r.str()
		if err != nil {
			return Message{}, err
		}
		name, err := r.str()
		if err != nil {
			return Message{}, err
		}
		ver, err := r.u32()
		if err != nil {
			return Message{}, err
		}
		m.SchemaAdvertisement = SchemaAdvertisementMsg{TypeHash: schema.TypeHash(h), AppID: app, ComponentName: name, SchemaVersion: ver}
	case KindSchemaNack:
		h, err := r.hash16()
		if err != nil {
			return Message{}, err
		}
		reason, err := r.str()
		if err != nil {
			return Message{}, err
		}
		ts, err := r.i64()
		if err != nil {
			return Message{}, err
		}
		m.SchemaNack = SchemaNackMsg{TypeHash: schema.TypeHash(h), Reason: reason, Timestamp: ts}
	case KindRegisterSchema:
		h, err := r.hash16()
		if err != nil {
			return Message{}, err
		}
		app, err := r.str()
		if err != nil {
			return Message{}, err
		}
		name, err := r.str()
		if err != nil {
			return Message{}, err
		}
		ver, err := r.u32()
		if err != nil {
			return Message{}, err
		}
		vis, err := r.u8()
		if err != nil {
			return Message{}, err
		}
		n, err := r.u32()
		if err != nil {
			return Message{}, err
		}
		fields := make([]SchemaFieldDescriptor, 0, n)
		for i := uint32(0); i < n; i++ {
			fname, err := r.str()
			if err != nil {
				return Message{}, err
			}
			ftype, err := r.u8()
			if err != nil {
				return Message{}, err
			}
			fields = append(fields, SchemaFieldDescriptor{Name: fname, Type: property.Type(ftype)})
		}
		m.RegisterSchema = RegisterSchemaMsg{
			TypeHash:      schema.TypeHash(h),
			AppID:         app,
			ComponentName: name,
			SchemaVersion: ver,
			Visibility:    schema.Visibility(vis),
			Fields:        fields,
		}
	case KindQueryPublicSchemas:
		m.QueryPublicSchemas = QueryPublicSchemasMsg{}
	case KindPublishSchema:
		h, err := r.hash16()
		if err != nil {
			return Message{}, err
		}
		m.PublishSchema = PublishSchemaMsg{TypeHash: schema.TypeHash(h)}
	case KindUnpublishSchema:
		h, err := r.hash16()
		if err != nil {
			return Message{}, err
		}
		m.UnpublishSchema = UnpublishSchemaMsg{TypeHash: schema.TypeHash(h)}
	case KindHeartbeat:
		ts, err := r.i64()
		if err != nil {
			return Message{}, err
		}
		m.Heartbeat = HeartbeatMsg{Timestamp: ts}
	default:
		return Message{}, fmt.Errorf("wire: unknown message kind tag %d", kb)
	}

	return m, nil
}
