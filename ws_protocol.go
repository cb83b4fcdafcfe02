package rigscope

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
)

// Binary protocol served on /ws2. Every websocket message is an 8 byte
// envelope followed by a payload. All integers are little endian.
const (
	ProtocolVersion byte = 1

	MessageTypeData     byte = 0x01
	MessageTypeMetadata byte = 0x02
	MessageTypeLog      byte = 0x03
	MessageTypeState    byte = 0x04

	EnvelopeHeaderSize = 8
)

type EnvelopeHeader struct {
	Version  byte
	Reserved [2]byte // Reserved for future use
	Type     byte
	Length   uint32 // Payload length in bytes
}

// DATA payload (type 0x01): points appended to one view.
type DataMessage struct {
	SeriesID uint32
	Length   uint32 // Number of X/Y pairs
	X        []float64
	Y        []float64
}

// LOG payload (type 0x03): console lines, oldest first.
type LogMessage struct {
	Lines []string
}

// STATE payload (type 0x04).
type StateMessage struct {
	ControlState
	// Every series was emptied; clients drop what they have plotted.
	Cleared bool
	// The DATA messages that follow replace the client's series rather than
	// extend them.
	Snapshot bool
}

type WSMessage struct {
	Header  EnvelopeHeader
	Payload interface{} // One of: DataMessage, Metadata, LogMessage, StateMessage
}

func EncodeEnvelopeHeader(env EnvelopeHeader) []byte {
	buf := make([]byte, EnvelopeHeaderSize)
	buf[0] = env.Version
	buf[1] = env.Reserved[0]
	buf[2] = env.Reserved[1]
	buf[3] = env.Type
	binary.LittleEndian.PutUint32(buf[4:8], env.Length)
	return buf
}

func DecodeEnvelopeHeader(buf []byte) (EnvelopeHeader, error) {
	if len(buf) < EnvelopeHeaderSize {
		return EnvelopeHeader{}, fmt.Errorf("buffer too short: expected at least %d bytes, got %d", EnvelopeHeaderSize, len(buf))
	}

	env := EnvelopeHeader{
		Version: buf[0],
		Type:    buf[3],
		Length:  binary.LittleEndian.Uint32(buf[4:8]),
	}
	env.Reserved[0] = buf[1]
	env.Reserved[1] = buf[2]

	return env, nil
}

// Layout: SeriesID(4) + Length(4) + X array + Y array.
func EncodeDataMessage(msg DataMessage) ([]byte, error) {
	if len(msg.X) != len(msg.Y) {
		return nil, fmt.Errorf("X and Y arrays must have same length: X=%d, Y=%d", len(msg.X), len(msg.Y))
	}
	if uint32(len(msg.X)) != msg.Length {
		return nil, fmt.Errorf("Length field (%d) doesn't match array length (%d)", msg.Length, len(msg.X))
	}

	buf := make([]byte, 8+msg.Length*8*2)
	binary.LittleEndian.PutUint32(buf[0:4], msg.SeriesID)
	binary.LittleEndian.PutUint32(buf[4:8], msg.Length)

	offset := 8
	for _, values := range [][]float64{msg.X, msg.Y} {
		for _, v := range values {
			binary.LittleEndian.PutUint64(buf[offset:offset+8], math.Float64bits(v))
			offset += 8
		}
	}

	return buf, nil
}

func DecodeDataMessage(buf []byte) (DataMessage, error) {
	if len(buf) < 8 {
		return DataMessage{}, fmt.Errorf("buffer too short for DATA message: expected at least 8 bytes, got %d", len(buf))
	}

	msg := DataMessage{
		SeriesID: binary.LittleEndian.Uint32(buf[0:4]),
		Length:   binary.LittleEndian.Uint32(buf[4:8]),
	}

	expectedSize := 8 + uint64(msg.Length)*8*2
	if uint64(len(buf)) != expectedSize {
		return DataMessage{}, fmt.Errorf("buffer size mismatch: expected %d bytes for %d pairs, got %d", expectedSize, msg.Length, len(buf))
	}

	msg.X = make([]float64, msg.Length)
	msg.Y = make([]float64, msg.Length)

	offset := 8
	for _, values := range [][]float64{msg.X, msg.Y} {
		for i := range values {
			values[i] = math.Float64frombits(binary.LittleEndian.Uint64(buf[offset : offset+8]))
			offset += 8
		}
	}

	return msg, nil
}

// METADATA, LOG and STATE payloads share one layout: JSON Length (4 bytes)
// followed by the JSON document.
func encodeJSONPayload(kind string, v interface{}) ([]byte, error) {
	jsonData, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s: %w", kind, err)
	}

	buf := make([]byte, 4+len(jsonData))
	binary.LittleEndian.PutUint32(buf[0:4], uint32(len(jsonData)))
	copy(buf[4:], jsonData)

	return buf, nil
}

func decodeJSONPayload(kind string, buf []byte, v interface{}) error {
	if len(buf) < 4 {
		return fmt.Errorf("buffer too short for %s message: expected at least 4 bytes, got %d", kind, len(buf))
	}

	jsonLength := binary.LittleEndian.Uint32(buf[0:4])

	expectedSize := 4 + uint64(jsonLength)
	if uint64(len(buf)) != expectedSize {
		return fmt.Errorf("buffer size mismatch: expected %d bytes, got %d", expectedSize, len(buf))
	}

	if err := json.Unmarshal(buf[4:], v); err != nil {
		return fmt.Errorf("failed to unmarshal %s: %w", kind, err)
	}

	return nil
}

func EncodeMetadataMessage(metadata Metadata) ([]byte, error) {
	return encodeJSONPayload("metadata", metadata)
}

func DecodeMetadataMessage(buf []byte) (Metadata, error) {
	var metadata Metadata
	err := decodeJSONPayload("METADATA", buf, &metadata)
	return metadata, err
}

func EncodeLogMessage(msg LogMessage) ([]byte, error) {
	return encodeJSONPayload("log message", msg)
}

func DecodeLogMessage(buf []byte) (LogMessage, error) {
	var msg LogMessage
	err := decodeJSONPayload("LOG", buf, &msg)
	return msg, err
}

func EncodeStateMessage(msg StateMessage) ([]byte, error) {
	return encodeJSONPayload("state message", msg)
}

func DecodeStateMessage(buf []byte) (StateMessage, error) {
	var msg StateMessage
	err := decodeJSONPayload("STATE", buf, &msg)
	return msg, err
}

// EncodeWSMessage encodes header and payload. The header Length is computed
// from the payload.
func EncodeWSMessage(msg WSMessage) ([]byte, error) {
	var payload []byte
	var err error

	switch msg.Header.Type {
	case MessageTypeData:
		dataMsg, ok := msg.Payload.(DataMessage)
		if !ok {
			return nil, fmt.Errorf("payload type mismatch: expected DataMessage for type 0x%02x, got %T", msg.Header.Type, msg.Payload)
		}
		payload, err = EncodeDataMessage(dataMsg)
	case MessageTypeMetadata:
		metadata, ok := msg.Payload.(Metadata)
		if !ok {
			return nil, fmt.Errorf("payload type mismatch: expected Metadata for type 0x%02x, got %T", msg.Header.Type, msg.Payload)
		}
		payload, err = EncodeMetadataMessage(metadata)
	case MessageTypeLog:
		logMsg, ok := msg.Payload.(LogMessage)
		if !ok {
			return nil, fmt.Errorf("payload type mismatch: expected LogMessage for type 0x%02x, got %T", msg.Header.Type, msg.Payload)
		}
		payload, err = EncodeLogMessage(logMsg)
	case MessageTypeState:
		stateMsg, ok := msg.Payload.(StateMessage)
		if !ok {
			return nil, fmt.Errorf("payload type mismatch: expected StateMessage for type 0x%02x, got %T", msg.Header.Type, msg.Payload)
		}
		payload, err = EncodeStateMessage(stateMsg)
	default:
		return nil, fmt.Errorf("unknown message type: 0x%02x", msg.Header.Type)
	}
	if err != nil {
		return nil, err
	}

	msg.Header.Length = uint32(len(payload))

	header := EncodeEnvelopeHeader(msg.Header)

	fullMsg := make([]byte, len(header)+len(payload))
	copy(fullMsg, header)
	copy(fullMsg[len(header):], payload)

	return fullMsg, nil
}

func DecodeWSMessage(buf []byte) (WSMessage, error) {
	env, err := DecodeEnvelopeHeader(buf)
	if err != nil {
		return WSMessage{}, err
	}

	expectedSize := uint64(EnvelopeHeaderSize) + uint64(env.Length)
	if uint64(len(buf)) < expectedSize {
		return WSMessage{}, fmt.Errorf("buffer too short: expected %d bytes (header + payload), got %d", expectedSize, len(buf))
	}

	payloadBytes := buf[EnvelopeHeaderSize:expectedSize]

	var payload interface{}
	switch env.Type {
	case MessageTypeData:
		payload, err = DecodeDataMessage(payloadBytes)
	case MessageTypeMetadata:
		payload, err = DecodeMetadataMessage(payloadBytes)
	case MessageTypeLog:
		payload, err = DecodeLogMessage(payloadBytes)
	case MessageTypeState:
		payload, err = DecodeStateMessage(payloadBytes)
	default:
		return WSMessage{}, fmt.Errorf("unknown message type: 0x%02x", env.Type)
	}
	if err != nil {
		return WSMessage{}, err
	}

	return WSMessage{
		Header:  env,
		Payload: payload,
	}, nil
}

func newWSMessage(messageType byte, payload interface{}) WSMessage {
	return WSMessage{
		Header:  EnvelopeHeader{Version: ProtocolVersion, Type: messageType},
		Payload: payload,
	}
}

// EventToWSMessages converts a dispatcher Event to binary protocol messages:
// an optional STATE message, DATA messages grouped per view, then a LOG
// message.
func EventToWSMessages(event Event) []WSMessage {
	messages := make([]WSMessage, 0, 4)

	if event.State != nil {
		messages = append(messages, newWSMessage(MessageTypeState, StateMessage{
			ControlState: *event.State,
			Cleared:      event.Cleared,
			Snapshot:     event.Kind == EventSnapshot,
		}))
	}

	for _, series := range event.Series {
		data := DataMessage{SeriesID: uint32(series.View)}
		for _, p := range series.Points {
			data.X = append(data.X, p.X)
			data.Y = append(data.Y, p.Y)
		}
		data.Length = uint32(len(data.X))
		messages = append(messages, newWSMessage(MessageTypeData, data))
	}

	// Group points by view, keeping the order views first appear in.
	order := make([]int, 0)
	byView := make(map[int]*DataMessage)
	for _, p := range event.Points {
		data, ok := byView[p.View]
		if !ok {
			data = &DataMessage{SeriesID: uint32(p.View)}
			byView[p.View] = data
			order = append(order, p.View)
		}
		data.X = append(data.X, p.X)
		data.Y = append(data.Y, p.Y)
		data.Length++
	}
	for _, view := range order {
		messages = append(messages, newWSMessage(MessageTypeData, *byView[view]))
	}

	if len(event.Lines) > 0 {
		messages = append(messages, newWSMessage(MessageTypeLog, LogMessage{Lines: event.Lines}))
	}

	return messages
}
