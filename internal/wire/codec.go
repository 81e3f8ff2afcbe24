package wire

// PacketCodec is the external collaborator named in spec.md §1: the
// lower-level packet byte-layout (class tags, BRC header encoding) is
// deliberately out of this core's scope. The engine consumes exactly the
// two opaque operations below; a production build wires in the vendor
// codec, while BRCCodec (brc.go) is a reference implementation used for
// tests and as the engine's runnable default.
type PacketCodec interface {
	// EncodePacket serializes a single outbound Descriptor to bytes ready
	// for Framer.EncodeOutbound / Link.Write.
	EncodePacket(d Descriptor) ([]byte, error)

	// DecodePacketFrame parses one Framer-delimited payload into zero or
	// more class records. A frame may carry more than one class.
	DecodePacketFrame(payload []byte) ([]DecodedMessage, error)
}
