package protocol

import (
	"encoding/binary"
	"fmt"

	"github.com/swarmit/swarmitctl/internal/errs"
)

// Encode serializes p into its wire representation: a leading tag byte
// followed by the payload's fixed-width fields, little-endian, with any
// variable-length field (OTA chunk payload, message text, event data)
// trailing and consuming the remainder of the frame (spec.md §6.1).
func Encode(p Payload) []byte {
	switch v := p.(type) {
	case StatusRequest:
		return []byte{byte(TagStatusRequest)}
	case StartRequest:
		return []byte{byte(TagStartRequest)}
	case StopRequest:
		return []byte{byte(TagStopRequest)}
	case ResetRequest:
		buf := make([]byte, 1+4+4)
		buf[0] = byte(TagResetRequest)
		binary.LittleEndian.PutUint32(buf[1:5], uint32(v.PosX))
		binary.LittleEndian.PutUint32(buf[5:9], uint32(v.PosY))
		return buf
	case OtaStartRequest:
		buf := make([]byte, 1+4+4)
		buf[0] = byte(TagOtaStart)
		binary.LittleEndian.PutUint32(buf[1:5], v.FwLength)
		binary.LittleEndian.PutUint32(buf[5:9], v.FwChunkCount)
		return buf
	case OtaChunkRequest:
		buf := make([]byte, 1+4+1+8+len(v.Payload))
		buf[0] = byte(TagOtaChunk)
		binary.LittleEndian.PutUint32(buf[1:5], v.Index)
		buf[5] = v.Count
		copy(buf[6:14], v.Sha[:])
		copy(buf[14:], v.Payload)
		return buf
	case StatusNotif:
		buf := make([]byte, 1+1+1+2+4+4)
		buf[0] = byte(TagStatusNotif)
		buf[1] = byte(v.Device)
		buf[2] = byte(v.Status)
		binary.LittleEndian.PutUint16(buf[3:5], v.BatteryMV)
		binary.LittleEndian.PutUint32(buf[5:9], uint32(v.PosX))
		binary.LittleEndian.PutUint32(buf[9:13], uint32(v.PosY))
		return buf
	case OtaStartAckNotif:
		return []byte{byte(TagOtaStartAck)}
	case OtaChunkAckNotif:
		buf := make([]byte, 1+4)
		buf[0] = byte(TagOtaChunkAck)
		binary.LittleEndian.PutUint32(buf[1:5], v.Index)
		return buf
	case EventNotif:
		buf := make([]byte, 1+4+1+len(v.Data))
		buf[0] = byte(v.Kind)
		binary.LittleEndian.PutUint32(buf[1:5], v.Timestamp)
		buf[5] = uint8(len(v.Data))
		copy(buf[6:], v.Data)
		return buf
	case Message:
		buf := make([]byte, 1+1+len(v.Text))
		buf[0] = byte(TagMessage)
		buf[1] = uint8(len(v.Text))
		copy(buf[2:], v.Text)
		return buf
	default:
		panic(fmt.Sprintf("protocol: Encode: unhandled payload type %T", p))
	}
}

// Decode parses a wire frame's tag byte and body into a typed Payload.
// Malformed or unrecognized frames return an error satisfying
// errs.IsProtocolError so callers can drop and log rather than propagate.
func Decode(raw []byte) (Payload, error) {
	if len(raw) < 1 {
		return nil, errs.NewMalformedFrame("decode.tag", fmt.Errorf("empty frame"))
	}
	tag := Tag(raw[0])
	body := raw[1:]

	switch tag {
	case TagStatusRequest:
		return StatusRequest{}, nil
	case TagStartRequest:
		return StartRequest{}, nil
	case TagStopRequest:
		return StopRequest{}, nil
	case TagResetRequest:
		if len(body) != 8 {
			return nil, errs.NewMalformedFrame("decode.reset_request", fmt.Errorf("want 8 bytes, got %d", len(body)))
		}
		return ResetRequest{
			PosX: int32(binary.LittleEndian.Uint32(body[0:4])),
			PosY: int32(binary.LittleEndian.Uint32(body[4:8])),
		}, nil
	case TagOtaStart:
		if len(body) != 8 {
			return nil, errs.NewMalformedFrame("decode.ota_start", fmt.Errorf("want 8 bytes, got %d", len(body)))
		}
		return OtaStartRequest{
			FwLength:     binary.LittleEndian.Uint32(body[0:4]),
			FwChunkCount: binary.LittleEndian.Uint32(body[4:8]),
		}, nil
	case TagOtaChunk:
		const fixed = 4 + 1 + 8
		if len(body) < fixed {
			return nil, errs.NewMalformedFrame("decode.ota_chunk", fmt.Errorf("want at least %d bytes, got %d", fixed, len(body)))
		}
		var sha [8]byte
		copy(sha[:], body[5:13])
		payload := append([]byte(nil), body[13:]...)
		return OtaChunkRequest{
			Index:   binary.LittleEndian.Uint32(body[0:4]),
			Count:   body[4],
			Sha:     sha,
			Payload: payload,
		}, nil
	case TagStatusNotif:
		if len(body) != 12 {
			return nil, errs.NewMalformedFrame("decode.status_notif", fmt.Errorf("want 12 bytes, got %d", len(body)))
		}
		return StatusNotif{
			Device:    DeviceType(body[0]),
			Status:    Lifecycle(body[1]),
			BatteryMV: binary.LittleEndian.Uint16(body[2:4]),
			PosX:      int32(binary.LittleEndian.Uint32(body[4:8])),
			PosY:      int32(binary.LittleEndian.Uint32(body[8:12])),
		}, nil
	case TagOtaStartAck:
		return OtaStartAckNotif{}, nil
	case TagOtaChunkAck:
		if len(body) != 4 {
			return nil, errs.NewMalformedFrame("decode.ota_chunk_ack", fmt.Errorf("want 4 bytes, got %d", len(body)))
		}
		return OtaChunkAckNotif{Index: binary.LittleEndian.Uint32(body)}, nil
	case TagEventGPIO, TagEventLog:
		if len(body) < 5 {
			return nil, errs.NewMalformedFrame("decode.event", fmt.Errorf("want at least 5 bytes, got %d", len(body)))
		}
		count := int(body[4])
		if len(body)-5 != count {
			return nil, errs.NewMalformedFrame("decode.event", fmt.Errorf("count=%d inconsistent with remaining %d bytes", count, len(body)-5))
		}
		data := append([]byte(nil), body[5:]...)
		return EventNotif{
			Kind:      tag,
			Timestamp: binary.LittleEndian.Uint32(body[0:4]),
			Data:      data,
		}, nil
	case TagMessage:
		if len(body) < 1 {
			return nil, errs.NewMalformedFrame("decode.message", fmt.Errorf("want at least 1 byte, got %d", len(body)))
		}
		count := int(body[0])
		if len(body)-1 != count {
			return nil, errs.NewMalformedFrame("decode.message", fmt.Errorf("count=%d inconsistent with remaining %d bytes", count, len(body)-1))
		}
		return Message{Text: append([]byte(nil), body[1:]...)}, nil
	default:
		return nil, errs.NewUnknownPayloadType(byte(tag))
	}
}
