package signalr

// TransportKind identifies one of the duplex carriers SignalR negotiates
// over. Only WebSockets and LongPolling are ever selected by
// transportFactory; ServerSentEvents is decoded for wire compatibility
// with servers that advertise it but is never chosen (see transport_factory.go).
type TransportKind int

const (
	TransportKindWebSockets TransportKind = iota
	TransportKindServerSentEvents
	TransportKindLongPolling
)

func (k TransportKind) String() string {
	switch k {
	case TransportKindWebSockets:
		return "WebSockets"
	case TransportKindServerSentEvents:
		return "ServerSentEvents"
	case TransportKindLongPolling:
		return "LongPolling"
	default:
		return "Unknown"
	}
}

// ParseTransportKind decodes the wire form of a transport name. An unknown
// string is not an error here -- the caller (the negotiate decoder) turns
// that into a dataCorrupted DecodeError with a coding path attached.
func ParseTransportKind(s string) (TransportKind, bool) {
	switch s {
	case "WebSockets":
		return TransportKindWebSockets, true
	case "ServerSentEvents":
		return TransportKindServerSentEvents, true
	case "LongPolling":
		return TransportKindLongPolling, true
	default:
		return 0, false
	}
}

// TransferFormat is the negotiated wire encoding for a transport: text or binary.
type TransferFormat int

const (
	TransferFormatText TransferFormat = iota
	TransferFormatBinary
)

func (f TransferFormat) String() string {
	switch f {
	case TransferFormatText:
		return "Text"
	case TransferFormatBinary:
		return "Binary"
	default:
		return "Unknown"
	}
}

// ParseTransferFormat decodes the wire form of a transfer format.
func ParseTransferFormat(s string) (TransferFormat, bool) {
	switch s {
	case "Text":
		return TransferFormatText, true
	case "Binary":
		return TransferFormatBinary, true
	default:
		return 0, false
	}
}

// TransportDescription pairs a TransportKind with the transfer formats the
// server advertised for it. It is immutable once decoded.
type TransportDescription struct {
	Kind    TransportKind
	Formats []TransferFormat
}

// SupportsFormat reports whether the description advertises the given format.
func (d TransportDescription) SupportsFormat(format TransferFormat) bool {
	for _, f := range d.Formats {
		if f == format {
			return true
		}
	}
	return false
}

// Equal compares two descriptions by value, not by address -- negotiate_test.go
// builds two separate TransportDescription values and expects them to
// compare equal.
func (d TransportDescription) Equal(other TransportDescription) bool {
	if d.Kind != other.Kind || len(d.Formats) != len(other.Formats) {
		return false
	}
	for i, f := range d.Formats {
		if other.Formats[i] != f {
			return false
		}
	}
	return true
}
