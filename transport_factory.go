package signalr

import "net/http"

// transportFactory selects and builds a Transport from the negotiated list,
// using the fixed preference order webSockets, then longPolling.
// ServerSentEvents is decoded upstream but never selected here.
type transportFactory struct {
	client  Doer
	headers func() http.Header

	info, dbg StructuredLogger
}

// skipNegotiationTransports is the synthetic advertised list used when the
// caller configures WithSkipNegotiation: a WebSocket transport supporting
// both transfer formats, as if the server had advertised exactly that.
func skipNegotiationTransports() []TransportDescription {
	return []TransportDescription{
		{Kind: TransportKindWebSockets, Formats: []TransferFormat{TransferFormatText, TransferFormatBinary}},
	}
}

func selectTransportKind(available []TransportDescription) (TransportKind, error) {
	for _, preferred := range []TransportKind{TransportKindWebSockets, TransportKindLongPolling} {
		for _, d := range available {
			if d.Kind == preferred {
				return preferred, nil
			}
		}
	}
	return 0, &TransportSelectionError{Available: available}
}

func (f *transportFactory) create(available []TransportDescription) (Transport, error) {
	kind, err := selectTransportKind(available)
	if err != nil {
		return nil, err
	}
	switch kind {
	case TransportKindWebSockets:
		return newWebSocketTransport(f.headers, f.info, f.dbg), nil
	case TransportKindLongPolling:
		return newLongPollingTransport(f.client, f.headers, f.info, f.dbg), nil
	default:
		return nil, &TransportSelectionError{Available: available}
	}
}
