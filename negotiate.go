package signalr

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// NegotiationResponse is the tagged variant decoded from a negotiate
// response body. Exactly one concrete type is produced per decode; modeling
// it as a sum type rather than one struct with a pile of optional fields
// makes the unreachable field combinations statically impossible, per the
// design note in SPEC_FULL.md §9.
type NegotiationResponse interface {
	negotiationResponse()
}

// ErrorNegotiation means the server refused to open a connection.
type ErrorNegotiation struct {
	Message string
}

func (*ErrorNegotiation) negotiationResponse() {}

// RedirectNegotiation means negotiation must be retried against URL,
// optionally authenticating with AccessToken.
type RedirectNegotiation struct {
	URL         string
	AccessToken string
}

func (*RedirectNegotiation) negotiationResponse() {}

// PayloadNegotiation is the legacy (Version 0) or current (Version >= 1)
// negotiate payload. ConnectionToken is empty for Version 0, where
// ConnectionID alone is the routing key.
type PayloadNegotiation struct {
	ConnectionID        string
	ConnectionToken     string
	Version             int
	AvailableTransports []TransportDescription
}

func (*PayloadNegotiation) negotiationResponse() {}

// DecodeErrorKind classifies a negotiate decode failure.
type DecodeErrorKind int

const (
	KindTypeMismatch DecodeErrorKind = iota
	KindKeyNotFound
	KindValueNotFound
	KindDataCorrupted
)

// PathElem is one segment of a DecodeError's coding path: either an object
// key or an array index.
type PathElem struct {
	key     string
	index   int
	isIndex bool
}

// Key builds an object-key path segment.
func Key(k string) PathElem { return PathElem{key: k} }

// Index builds an array-index path segment.
func Index(i int) PathElem { return PathElem{index: i, isIndex: true} }

func (p PathElem) String() string {
	if p.isIndex {
		return fmt.Sprintf("[%d]", p.index)
	}
	return p.key
}

// DecodeError identifies exactly where in the negotiate JSON the decode
// failed, and why. The coding Path and Kind are pinned by the fixtures in
// negotiate_test.go.
type DecodeError struct {
	Path   []PathElem
	Kind   DecodeErrorKind
	Detail string
}

func (e *DecodeError) pathString() string {
	var b strings.Builder
	for _, el := range e.Path {
		if el.isIndex {
			b.WriteString(el.String())
			continue
		}
		if b.Len() > 0 {
			b.WriteByte('.')
		}
		b.WriteString(el.String())
	}
	return b.String()
}

func (e *DecodeError) Error() string {
	path := e.pathString()
	switch e.Kind {
	case KindTypeMismatch:
		if path == "" {
			return fmt.Sprintf("type mismatch at root: %s", e.Detail)
		}
		return fmt.Sprintf("type mismatch at %s: %s", path, e.Detail)
	case KindKeyNotFound:
		return fmt.Sprintf("key not found: %s", path)
	case KindValueNotFound:
		return fmt.Sprintf("value not found: %s was null", path)
	case KindDataCorrupted:
		return fmt.Sprintf("data corrupted at %s: %s", path, e.Detail)
	default:
		return fmt.Sprintf("decode error at %s: %s", path, e.Detail)
	}
}

func newKeyNotFound(path []PathElem) *DecodeError {
	return &DecodeError{Path: path, Kind: KindKeyNotFound}
}

func newValueNotFound(path []PathElem) *DecodeError {
	return &DecodeError{Path: path, Kind: KindValueNotFound}
}

func newTypeMismatch(path []PathElem, detail string) *DecodeError {
	return &DecodeError{Path: path, Kind: KindTypeMismatch, Detail: detail}
}

func newDataCorrupted(path []PathElem, detail string) *DecodeError {
	return &DecodeError{Path: path, Kind: KindDataCorrupted, Detail: detail}
}

func prependPath(err error, prefix ...PathElem) error {
	var de *DecodeError
	if errors.As(err, &de) {
		de.Path = append(append([]PathElem{}, prefix...), de.Path...)
		return de
	}
	return err
}

// DecodeNegotiationResponse decodes a negotiate response body into its
// tagged variant. Discrimination order: error key present -> ErrorNegotiation;
// else url key present -> RedirectNegotiation; else negotiateVersion decides
// the payload shape.
func DecodeNegotiationResponse(data []byte) (NegotiationResponse, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		var typeErr *json.UnmarshalTypeError
		if errors.As(err, &typeErr) {
			return nil, newTypeMismatch(nil, fmt.Sprintf("expected object, found %s", typeErr.Value))
		}
		return nil, newTypeMismatch(nil, err.Error())
	}

	if raw, ok := fields["error"]; ok {
		var message string
		if err := json.Unmarshal(raw, &message); err != nil {
			return nil, newTypeMismatch([]PathElem{Key("error")}, fmt.Sprintf("expected string, found %s", describeRaw(raw)))
		}
		return &ErrorNegotiation{Message: message}, nil
	}

	if raw, ok := fields["url"]; ok {
		if isJSONNull(raw) {
			return nil, newValueNotFound([]PathElem{Key("url")})
		}
		var redirectURL string
		if err := json.Unmarshal(raw, &redirectURL); err != nil {
			return nil, newTypeMismatch([]PathElem{Key("url")}, fmt.Sprintf("expected string, found %s", describeRaw(raw)))
		}
		token, err := requireString(fields, "accessToken")
		if err != nil {
			return nil, err
		}
		return &RedirectNegotiation{URL: redirectURL, AccessToken: token}, nil
	}

	version, err := requireInt(fields, "negotiateVersion")
	if err != nil {
		return nil, err
	}
	connectionID, err := requireString(fields, "connectionId")
	if err != nil {
		return nil, err
	}
	var connectionToken string
	if version >= 1 {
		connectionToken, err = requireString(fields, "connectionToken")
		if err != nil {
			return nil, err
		}
	}
	transports, err := decodeAvailableTransports(fields)
	if err != nil {
		return nil, err
	}
	return &PayloadNegotiation{
		ConnectionID:        connectionID,
		ConnectionToken:     connectionToken,
		Version:             version,
		AvailableTransports: transports,
	}, nil
}

func requireString(fields map[string]json.RawMessage, key string) (string, error) {
	raw, ok := fields[key]
	if !ok {
		return "", newKeyNotFound([]PathElem{Key(key)})
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return "", newTypeMismatch([]PathElem{Key(key)}, fmt.Sprintf("expected string, found %s", describeRaw(raw)))
	}
	return s, nil
}

func requireInt(fields map[string]json.RawMessage, key string) (int, error) {
	raw, ok := fields[key]
	if !ok {
		return 0, newKeyNotFound([]PathElem{Key(key)})
	}
	var n int
	if err := json.Unmarshal(raw, &n); err != nil {
		return 0, newTypeMismatch([]PathElem{Key(key)}, fmt.Sprintf("expected int, found %s", describeRaw(raw)))
	}
	return n, nil
}

func decodeAvailableTransports(fields map[string]json.RawMessage) ([]TransportDescription, error) {
	raw, ok := fields["availableTransports"]
	if !ok {
		return nil, newKeyNotFound([]PathElem{Key("availableTransports")})
	}
	var rawList []json.RawMessage
	if err := json.Unmarshal(raw, &rawList); err != nil {
		return nil, newTypeMismatch([]PathElem{Key("availableTransports")}, fmt.Sprintf("expected array, found %s", describeRaw(raw)))
	}
	result := make([]TransportDescription, 0, len(rawList))
	for i, rawT := range rawList {
		var tFields map[string]json.RawMessage
		if err := json.Unmarshal(rawT, &tFields); err != nil {
			return nil, newTypeMismatch([]PathElem{Key("availableTransports"), Index(i)}, fmt.Sprintf("expected object, found %s", describeRaw(rawT)))
		}

		transportStr, err := requireString(tFields, "transport")
		if err != nil {
			return nil, prependPath(err, Key("availableTransports"), Index(i))
		}
		kind, ok := ParseTransportKind(transportStr)
		if !ok {
			return nil, newDataCorrupted(
				[]PathElem{Key("availableTransports"), Index(i), Key("transport")},
				fmt.Sprintf("invalid TransportKind value %q", transportStr))
		}

		formatsRaw, ok := tFields["transferFormats"]
		if !ok {
			return nil, newKeyNotFound([]PathElem{Key("availableTransports"), Index(i), Key("transferFormats")})
		}
		var formatStrs []string
		if err := json.Unmarshal(formatsRaw, &formatStrs); err != nil {
			return nil, newTypeMismatch(
				[]PathElem{Key("availableTransports"), Index(i), Key("transferFormats")},
				fmt.Sprintf("expected array, found %s", describeRaw(formatsRaw)))
		}
		formats := make([]TransferFormat, 0, len(formatStrs))
		for j, fs := range formatStrs {
			tf, ok := ParseTransferFormat(fs)
			if !ok {
				return nil, newDataCorrupted(
					[]PathElem{Key("availableTransports"), Index(i), Key("transferFormats"), Index(j)},
					fmt.Sprintf("invalid TransferFormat value %q", fs))
			}
			formats = append(formats, tf)
		}
		result = append(result, TransportDescription{Kind: kind, Formats: formats})
	}
	return result, nil
}

func isJSONNull(raw json.RawMessage) bool {
	return strings.TrimSpace(string(raw)) == "null"
}

// describeRaw gives a human name for the JSON type of a raw value, used to
// build "expected X, found Y" detail strings.
func describeRaw(raw json.RawMessage) string {
	s := strings.TrimSpace(string(raw))
	if s == "" {
		return "nothing"
	}
	switch s[0] {
	case '"':
		return "string"
	case '[':
		return "array"
	case '{':
		return "object"
	case 't', 'f':
		return "bool"
	case 'n':
		return "null"
	default:
		return "number"
	}
}
