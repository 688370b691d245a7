package pcapng

import (
	"encoding/binary"
	"io"

	"github.com/cockroachdb/errors"
	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
	ecan "go.einride.tech/can"

	"github.com/BIwashi/canreplay/pkg/can"
)

// LinkTypeCAN is the raw SocketCAN link type.
// ref: https://www.tcpdump.org/linktypes.html
const LinkTypeCAN = 227

const (
	idFlagExtended = 0x80000000
	idFlagRemote   = 0x40000000
	idFlagError    = 0x20000000
	idMaskExtended = 0x1fffffff
	idMaskStandard = 0x7ff
)

// Reader reads timestamped CAN frames from a PCAPNG capture, so dumps
// recorded straight off a live bus replay through the same pipeline as
// text dumps.
type Reader struct {
	reader      *pcapgo.NgReader
	linkType    layers.LinkType
	packetCount uint64
}

// NewReader creates a PCAPNG reader over r.
func NewReader(r io.Reader) (*Reader, error) {
	ngReader, err := pcapgo.NewNgReader(r, pcapgo.DefaultNgReaderOptions)
	if err != nil {
		return nil, errors.Wrap(err, "create pcapng reader")
	}

	return &Reader{
		reader:   ngReader,
		linkType: ngReader.LinkType(),
	}, nil
}

// ReadNext reads the next CAN frame from the capture, skipping packets
// that are not CAN data frames. Returns io.EOF at end of capture.
func (r *Reader) ReadNext() (*can.TimedFrame, error) {
	for {
		data, ci, err := r.reader.ReadPacketData()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil, io.EOF
			}
			return nil, errors.Wrap(err, "read packet data")
		}

		r.packetCount++

		payload, err := r.canPayload(data)
		if err != nil {
			// not a CAN packet, skip
			continue
		}

		frame, isError, err := parseRawCANFrame(payload, ci)
		if err != nil || isError {
			// malformed or bus error frame, skip
			continue
		}

		return frame, nil
	}
}

// PacketCount returns the number of packets read so far, CAN or not.
func (r *Reader) PacketCount() uint64 {
	return r.packetCount
}

// canPayload strips the link-layer framing down to the raw CAN frame.
func (r *Reader) canPayload(data []byte) ([]byte, error) {
	switch r.linkType {
	case layers.LinkTypeLinuxSLL:
		// Linux cooked capture wraps the CAN frame in an SLL header.
		packet := gopacket.NewPacket(data, r.linkType, gopacket.Default)
		if sllLayer := packet.Layer(layers.LayerTypeLinuxSLL); sllLayer != nil {
			return sllLayer.(*layers.LinuxSLL).Payload, nil
		}
		return packet.Data(), nil
	case LinkTypeCAN:
		return data, nil
	default:
		return nil, errors.Newf("unsupported link type: %v", r.linkType)
	}
}

// parseRawCANFrame decodes the SocketCAN wire format: 4 bytes of CAN ID
// plus flags, 1 byte of length, 3 bytes of padding, then the data.
func parseRawCANFrame(data []byte, ci gopacket.CaptureInfo) (*can.TimedFrame, bool, error) {
	if len(data) < 8 {
		return nil, false, errors.Newf("data too short for CAN frame: %d", len(data))
	}

	var (
		canIDRaw = binary.LittleEndian.Uint32(data[0:4])

		isExtended = (canIDRaw & idFlagExtended) != 0
		isRemote   = (canIDRaw & idFlagRemote) != 0
		isError    = (canIDRaw & idFlagError) != 0
	)

	var canID uint32
	if isExtended {
		canID = canIDRaw & idMaskExtended
	} else {
		canID = canIDRaw & idMaskStandard
	}

	dataLen := data[4]
	if dataLen > 8 {
		dataLen = 8
	}

	var canData ecan.Data
	if len(data) >= 8+int(dataLen) {
		copy(canData[:], data[8:8+dataLen])
	}

	return &can.TimedFrame{
		Frame: ecan.Frame{
			ID:         canID,
			Length:     dataLen,
			Data:       canData,
			IsRemote:   isRemote,
			IsExtended: isExtended,
		},
		Timestamp: ci.Timestamp,
	}, isError, nil
}
