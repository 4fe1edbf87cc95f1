package xmlrpc

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// Fault is the error surfaced when a backend's methodResponse contains a
// <fault> element (spec §6). It implements error so it can be propagated
// as-is through the retry driver and wrapped by xrpcerr.
type Fault struct {
	Code    int
	Message string
}

func (f *Fault) Error() string {
	return fmt.Sprintf("xmlrpc fault %d: %s", f.Code, f.Message)
}

// DecodeMethodCall parses a methodCall document into its method name and
// ordered parameter list.
func DecodeMethodCall(data []byte) (methodName string, params []Value, err error) {
	dec := xml.NewDecoder(bytes.NewReader(data))
	if err := expectStart(dec, "methodCall"); err != nil {
		return "", nil, err
	}
	for {
		tok, err := nextStart(dec)
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", nil, err
		}
		switch tok.Name.Local {
		case "methodName":
			methodName, err = readCharData(dec, "methodName")
			if err != nil {
				return "", nil, err
			}
		case "params":
			params, err = decodeParams(dec)
			if err != nil {
				return "", nil, err
			}
		default:
			if err := skipElement(dec, tok.Name.Local); err != nil {
				return "", nil, err
			}
		}
	}
	if methodName == "" {
		return "", nil, fmt.Errorf("xmlrpc: methodCall missing methodName")
	}
	return methodName, params, nil
}

// DecodeMethodResponse parses a methodResponse document. If the response
// carries a <fault>, it returns a *Fault error (spec §6). Otherwise it
// returns the decoded value of the first (and only) <param>.
func DecodeMethodResponse(data []byte) (Value, error) {
	dec := xml.NewDecoder(bytes.NewReader(data))
	if err := expectStart(dec, "methodResponse"); err != nil {
		return Value{}, err
	}
	tok, err := nextStart(dec)
	if err != nil {
		return Value{}, fmt.Errorf("xmlrpc: empty methodResponse: %w", err)
	}
	switch tok.Name.Local {
	case "fault":
		if err := expectStart(dec, "value"); err != nil {
			return Value{}, err
		}
		faultValue, err := decodeValueElement(dec)
		if err != nil {
			return Value{}, err
		}
		if err := skipToEnd(dec, "fault"); err != nil {
			return Value{}, err
		}
		code, message := faultFields(faultValue)
		return Value{}, &Fault{Code: code, Message: message}
	case "params":
		params, err := decodeParams(dec)
		if err != nil {
			return Value{}, err
		}
		if len(params) == 0 {
			return Value{}, fmt.Errorf("xmlrpc: methodResponse has no params")
		}
		return params[0], nil
	default:
		return Value{}, fmt.Errorf("xmlrpc: unexpected element %q in methodResponse", tok.Name.Local)
	}
}

func faultFields(v Value) (code int, message string) {
	if v.Kind != KindStruct {
		return 0, ""
	}
	for _, m := range v.Members {
		switch m.Name {
		case "faultCode":
			code = int(m.Value.Int)
		case "faultString":
			message = m.Value.Str
		}
	}
	return code, message
}

func decodeParams(dec *xml.Decoder) ([]Value, error) {
	var params []Value
	for {
		tok, err := nextToken(dec)
		if err != nil {
			return nil, err
		}
		switch t := tok.(type) {
		case xml.StartElement:
			if t.Name.Local != "param" {
				if err := skipElement(dec, t.Name.Local); err != nil {
					return nil, err
				}
				continue
			}
			v, err := decodeParam(dec)
			if err != nil {
				return nil, err
			}
			params = append(params, v)
		case xml.EndElement:
			return params, nil
		}
	}
}

func decodeParam(dec *xml.Decoder) (Value, error) {
	if err := expectStartAlready(dec, "value"); err != nil {
		return Value{}, err
	}
	v, err := decodeValueElement(dec)
	if err != nil {
		return Value{}, err
	}
	if err := skipToEnd(dec, "value"); err != nil {
		return Value{}, err
	}
	if err := skipToEnd(dec, "param"); err != nil {
		return Value{}, err
	}
	return v, nil
}

// decodeValueElement decodes the contents of a <value>...</value>, assuming
// the <value> start tag has already been consumed by the caller (it does
// not consume the </value> end tag, which the caller handles via
// skipToEnd).
func decodeValueElement(dec *xml.Decoder) (Value, error) {
	tok, err := nextTokenOrEnd(dec)
	if err != nil {
		return Value{}, err
	}
	se, ok := tok.(xml.StartElement)
	if !ok {
		// Untyped <value>text</value> is treated as a bare string, per the
		// XML-RPC convention this codec otherwise avoids emitting. An
		// immediately-closed <value/> has no type to infer and is rejected.
		if cd, ok := tok.(xml.CharData); ok {
			return String(strings.TrimSpace(string(cd))), nil
		}
		return Value{}, fmt.Errorf("xmlrpc: empty <value> has no inferable type")
	}
	switch se.Name.Local {
	case "nil":
		if err := skipToEnd(dec, "nil"); err != nil {
			return Value{}, err
		}
		return Nil(), nil
	case "string":
		s, err := readCharData(dec, "string")
		if err != nil {
			return Value{}, err
		}
		return String(s), nil
	case "int", "i4":
		s, err := readCharData(dec, se.Name.Local)
		if err != nil {
			return Value{}, err
		}
		n, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
		if err != nil {
			return Value{}, fmt.Errorf("xmlrpc: invalid integer %q: %w", s, err)
		}
		return Int(n), nil
	case "double":
		s, err := readCharData(dec, "double")
		if err != nil {
			return Value{}, err
		}
		f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
		if err != nil {
			return Value{}, fmt.Errorf("xmlrpc: invalid double %q: %w", s, err)
		}
		return Double(f), nil
	case "boolean":
		s, err := readCharData(dec, "boolean")
		if err != nil {
			return Value{}, err
		}
		return Bool(strings.TrimSpace(s) == "1"), nil
	case "base64":
		s, err := readCharData(dec, "base64")
		if err != nil {
			return Value{}, err
		}
		return Base64(strings.TrimSpace(s)), nil
	case "array":
		return decodeArray(dec)
	case "struct":
		return decodeStruct(dec)
	default:
		return Value{}, fmt.Errorf("xmlrpc: unsupported value type %q", se.Name.Local)
	}
}

func decodeArray(dec *xml.Decoder) (Value, error) {
	if err := expectStart(dec, "data"); err != nil {
		return Value{}, err
	}
	var items []Value
	for {
		tok, err := nextToken(dec)
		if err != nil {
			return Value{}, err
		}
		switch t := tok.(type) {
		case xml.StartElement:
			if t.Name.Local != "value" {
				if err := skipElement(dec, t.Name.Local); err != nil {
					return Value{}, err
				}
				continue
			}
			v, err := decodeValueElement(dec)
			if err != nil {
				return Value{}, err
			}
			if err := skipToEnd(dec, "value"); err != nil {
				return Value{}, err
			}
			items = append(items, v)
		case xml.EndElement:
			// </data>
			if err := skipToEnd(dec, "array"); err != nil {
				return Value{}, err
			}
			return Array(items...), nil
		}
	}
}

func decodeStruct(dec *xml.Decoder) (Value, error) {
	var members []Member
	for {
		tok, err := nextToken(dec)
		if err != nil {
			return Value{}, err
		}
		switch t := tok.(type) {
		case xml.StartElement:
			if t.Name.Local != "member" {
				if err := skipElement(dec, t.Name.Local); err != nil {
					return Value{}, err
				}
				continue
			}
			if err := expectStart(dec, "name"); err != nil {
				return Value{}, err
			}
			name, err := readCharDataAlreadyStarted(dec, "name")
			if err != nil {
				return Value{}, err
			}
			if err := expectStart(dec, "value"); err != nil {
				return Value{}, err
			}
			v, err := decodeValueElement(dec)
			if err != nil {
				return Value{}, err
			}
			if err := skipToEnd(dec, "value"); err != nil {
				return Value{}, err
			}
			if err := skipToEnd(dec, "member"); err != nil {
				return Value{}, err
			}
			members = append(members, Member{Name: name, Value: v})
		case xml.EndElement:
			return Struct(members...), nil
		}
	}
}

// --- low-level token helpers ---

func nextToken(dec *xml.Decoder) (xml.Token, error) {
	return dec.Token()
}

// nextTokenOrEnd returns the next meaningful token (StartElement,
// EndElement, or non-blank CharData), skipping blank CharData/whitespace,
// comments, and processing instructions.
func nextTokenOrEnd(dec *xml.Decoder) (xml.Token, error) {
	for {
		tok, err := dec.Token()
		if err != nil {
			return nil, err
		}
		switch t := tok.(type) {
		case xml.StartElement:
			return t, nil
		case xml.EndElement:
			return t, nil
		case xml.CharData:
			if strings.TrimSpace(string(t)) != "" {
				return xml.CopyToken(t), nil
			}
		}
	}
}

// nextStart returns the next StartElement, skipping everything else, and
// propagates io.EOF when the stream is exhausted.
func nextStart(dec *xml.Decoder) (xml.StartElement, error) {
	for {
		tok, err := dec.Token()
		if err != nil {
			return xml.StartElement{}, err
		}
		if se, ok := tok.(xml.StartElement); ok {
			return se, nil
		}
		if _, ok := tok.(xml.EndElement); ok {
			return xml.StartElement{}, io.EOF
		}
	}
}

func expectStart(dec *xml.Decoder, name string) error {
	se, err := nextStart(dec)
	if err != nil {
		return fmt.Errorf("xmlrpc: expected <%s>: %w", name, err)
	}
	if se.Name.Local != name {
		return fmt.Errorf("xmlrpc: expected <%s>, got <%s>", name, se.Name.Local)
	}
	return nil
}

// expectStartAlready is used where the caller already consumed a
// surrounding loop's StartElement token and just needs validation, kept as
// a separate name for readability at call sites.
func expectStartAlready(dec *xml.Decoder, name string) error {
	return expectStart(dec, name)
}

func readCharData(dec *xml.Decoder, endName string) (string, error) {
	var b strings.Builder
	for {
		tok, err := dec.Token()
		if err != nil {
			return "", err
		}
		switch t := tok.(type) {
		case xml.CharData:
			b.Write(t)
		case xml.EndElement:
			if t.Name.Local == endName {
				return b.String(), nil
			}
		}
	}
}

func readCharDataAlreadyStarted(dec *xml.Decoder, endName string) (string, error) {
	return readCharData(dec, endName)
}

// skipToEnd consumes tokens up to and including the EndElement matching
// name, tolerating nested elements of the same local name by tracking
// depth.
func skipToEnd(dec *xml.Decoder, name string) error {
	depth := 0
	for {
		tok, err := dec.Token()
		if err != nil {
			return err
		}
		switch t := tok.(type) {
		case xml.StartElement:
			if t.Name.Local == name {
				depth++
			}
		case xml.EndElement:
			if t.Name.Local == name {
				if depth == 0 {
					return nil
				}
				depth--
			}
		}
	}
}

// skipElement consumes an entire element (already past its StartElement)
// whose local name is not one this decoder understands, for forward
// compatibility with extra fields.
func skipElement(dec *xml.Decoder, name string) error {
	return skipToEnd(dec, name)
}
