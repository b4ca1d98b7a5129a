package protocol

import "github.com/google/uuid"

// Handshake (client->server, opcode 0x00 while in StateHandshake).
type Handshake struct {
	ProtocolVersion int32
	ServerAddress   string
	ServerPort      uint16
	NextState       int32 // 1 = status, 2 = login
}

func DecodeHandshake(payload []byte) (Handshake, error) {
	r := NewReader(payload)
	var h Handshake
	var err error
	if h.ProtocolVersion, err = r.VarInt(); err != nil {
		return h, err
	}
	if h.ServerAddress, err = r.String(255); err != nil {
		return h, err
	}
	port, err := r.Int16()
	if err != nil {
		return h, err
	}
	h.ServerPort = uint16(port)
	if h.NextState, err = r.VarInt(); err != nil {
		return h, err
	}
	return h, nil
}

// StatusRequest carries no fields.
type StatusRequest struct{}

// StatusPing echoes an arbitrary i64 payload.
type StatusPing struct {
	Payload int64
}

func DecodeStatusPing(payload []byte) (StatusPing, error) {
	r := NewReader(payload)
	v, err := r.Int64()
	return StatusPing{Payload: v}, err
}

func EncodeStatusResponse(json string) []byte {
	return NewWriter(OpStatusResponse).String(json).Bytes()
}

func EncodeStatusPong(payload int64) []byte {
	return NewWriter(OpStatusPong).Int64(payload).Bytes()
}

// LoginStart (client->server).
type LoginStart struct {
	Username string
	UUID     uuid.UUID
}

func DecodeLoginStart(payload []byte) (LoginStart, error) {
	r := NewReader(payload)
	var ls LoginStart
	var err error
	if ls.Username, err = r.String(16); err != nil {
		return ls, err
	}
	if ls.UUID, err = r.UUID(); err != nil {
		return ls, err
	}
	return ls, nil
}

// EncryptionResponse (client->server).
type EncryptionResponse struct {
	SharedSecret []byte
	VerifyToken  []byte
}

func DecodeEncryptionResponse(payload []byte) (EncryptionResponse, error) {
	r := NewReader(payload)
	var er EncryptionResponse
	var err error
	if er.SharedSecret, err = r.ByteArray(); err != nil {
		return er, err
	}
	if er.VerifyToken, err = r.ByteArray(); err != nil {
		return er, err
	}
	return er, nil
}

// EncryptionRequest (server->client).
type EncryptionRequest struct {
	ServerID          string
	PublicKeyDER      []byte
	VerifyToken       []byte
	ShouldAuthenticate bool
}

func (e EncryptionRequest) Encode() []byte {
	return NewWriter(OpLoginEncryptionReq).
		String(e.ServerID).
		ByteArray(e.PublicKeyDER).
		ByteArray(e.VerifyToken).
		Bool(e.ShouldAuthenticate).
		Bytes()
}

// LoginProperty is one profile property (echoed from the session service).
type LoginProperty struct {
	Name      string
	Value     string
	Signature string
	Signed    bool
}

// LoginSuccess (server->client).
type LoginSuccess struct {
	UUID       uuid.UUID
	Username   string
	Properties []LoginProperty
}

func (l LoginSuccess) Encode() []byte {
	w := NewWriter(OpLoginSuccess).UUID(l.UUID).String(l.Username).VarInt(int32(len(l.Properties)))
	for _, p := range l.Properties {
		w.String(p.Name).String(p.Value).Bool(p.Signed)
		if p.Signed {
			w.String(p.Signature)
		}
	}
	return w.Bytes()
}

func EncodeSetCompression(threshold int32) []byte {
	return NewWriter(OpLoginSetCompression).VarInt(threshold).Bytes()
}

func EncodeDisconnect(opcode int32, reasonJSON string) []byte {
	return NewWriter(opcode).String(reasonJSON).Bytes()
}

func EncodeConfigFinish() []byte {
	return NewWriter(OpConfigFinish).Bytes()
}

func EncodeConfigKeepAlive(id int64) []byte {
	return NewWriter(OpConfigKeepAliveServer).Int64(id).Bytes()
}

func DecodeConfigKeepAlive(payload []byte) (int64, error) {
	return NewReader(payload).Int64()
}

func DecodeSelectKnownPacks(payload []byte) (int32, error) {
	return NewReader(payload).VarInt()
}

// EncodeKnownPacks writes the SelectKnownPacks server reply, which is an
// empty registry echo in offline re-implementations that skip resource
// pack/datapack negotiation: a VarInt count of zero.
func EncodeKnownPacks() []byte {
	return NewWriter(OpConfigKnownPacksOut).VarInt(0).Bytes()
}

func EncodePlayKeepAlive(id int64) []byte {
	return NewWriter(OpPlayKeepAliveServer).Int64(id).Bytes()
}

func DecodePlayKeepAlive(payload []byte) (int64, error) {
	return NewReader(payload).Int64()
}

// PlayLogin is the initial Play-phase packet (§4.F step 3). The vanilla
// wire format's dimension codec / biome registry NBT is out of this core's
// scope (no world-generation rules to describe); DimensionCodec carries
// whatever opaque bytes the caller has pre-built for its configured
// dimension, written through verbatim.
type PlayLogin struct {
	EntityID       int32
	ViewDistance   int32
	DimensionCodec []byte
}

func (p PlayLogin) Encode() []byte {
	return NewWriter(OpPlayLogin).
		Int64(int64(p.EntityID)).
		VarInt(p.ViewDistance).
		ByteArray(p.DimensionCodec).
		Bytes()
}

// EncodeAdvancementSeed carries the world seed used to derive
// client-side advancement tree randomisation.
func EncodeAdvancementSeed(seed int64) []byte {
	return NewWriter(OpPlayAdvancementSeed).Int64(seed).Bytes()
}

// EncodeGameStateChange signals a game-rule event (e.g. "change game
// mode"); reason is the vanilla event byte.
func EncodeGameStateChange(reason byte) []byte {
	return NewWriter(OpPlayGameStateChange).Byte(reason).Bytes()
}

func EncodeViewPosition(chunkX, chunkZ int32) []byte {
	return NewWriter(OpPlayViewPosition).VarInt(chunkX).VarInt(chunkZ).Bytes()
}

func EncodeViewDistance(distance int32) []byte {
	return NewWriter(OpPlayViewDistance).VarInt(distance).Bytes()
}

// EncodeEmptyChunk emits a placeholder chunk-with-light frame for a chunk
// this core hasn't populated with terrain (no world-generation rules are
// in scope); chunkX/chunkZ are the frame's only meaningful fields.
func EncodeEmptyChunk(chunkX, chunkZ int32) []byte {
	return NewWriter(OpPlayChunkData).VarInt(chunkX).VarInt(chunkZ).Bytes()
}

func EncodeTitleText(json string) []byte {
	return NewWriter(OpPlaySetTitleText).String(json).Bytes()
}

// EncodeEmptyWindowItems and EncodeEmptyDeclareRecipes are the startup
// inventory/recipe frames; an empty inventory and recipe book are valid
// steady states for a freshly joined player.
func EncodeEmptyWindowItems() []byte {
	return NewWriter(OpPlayWindowItems).Byte(0).VarInt(0).VarInt(0).Bytes()
}

func EncodeEmptyDeclareRecipes() []byte {
	return NewWriter(OpPlayDeclareRecipes).VarInt(0).Bytes()
}
