// Package rpcclient is the RPC Client: it opens one TCP connection per
// call, frames an HTTP/1.1 POST carrying an XML-RPC methodCall, reads the
// response, and decodes the XML-RPC body (spec §4.2, §6).
package rpcclient

import (
	"bufio"
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"time"

	"xrpclb/logsink"
	"xrpclb/xmlrpc"
	"xrpclb/xrpcerr"
)

// classifyKind reports KindTimeout for a deadline expiry (connect, write, or
// read), falling back to the stage-specific kind otherwise.
func classifyKind(err error, fallback xrpcerr.Kind) xrpcerr.Kind {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return xrpcerr.KindTimeout
	}
	return fallback
}

const headerTerminator = "\r\n\r\n"

// methodResponseEnd is the closing tag of a methodResponse document; per
// spec §6 the response body is delimited up to and including this
// (17-character) terminator.
const methodResponseEnd = "</methodResponse>"

// Mode selects how a convert call transmits its input/output.
type Mode int

const (
	// ModeStream carries input bytes inline (base64) and expects the
	// output payload inline (base64).
	ModeStream Mode = iota
	// ModeFilePath carries input/output paths; the backend reads/writes
	// files directly and the response is an acknowledgement.
	ModeFilePath
)

// Timeouts configures the independent connect/write/read deadlines applied
// to a single RPC attempt.
type Timeouts struct {
	Connect time.Duration
	Write   time.Duration
	Read    time.Duration
}

// DefaultTimeouts mirrors a conservative server-to-server default: long
// enough to tolerate a loaded converter, short enough that a dead backend
// fails fast.
var DefaultTimeouts = Timeouts{
	Connect: 5 * time.Second,
	Write:   5 * time.Second,
	Read:    30 * time.Second,
}

// Client issues XML-RPC calls to a single backend address. It holds no
// connection state between calls: every operation dials a fresh TCP
// connection and closes it on return (spec §4.2 "Connection discipline").
type Client struct {
	timeouts Timeouts
	log      logsink.Sink
}

// Option configures a Client.
type Option func(*Client)

// WithTimeouts overrides DefaultTimeouts.
func WithTimeouts(t Timeouts) Option {
	return func(c *Client) { c.timeouts = t }
}

// WithLogSink configures where the client reports connection-level
// events. Defaults to a no-op sink.
func WithLogSink(sink logsink.Sink) Option {
	return func(c *Client) { c.log = sink }
}

// New creates an RPC Client with the given options applied.
func New(opts ...Option) *Client {
	c := &Client{
		timeouts: DefaultTimeouts,
		log:      logsink.Nop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// ConvertParams bundles the arguments to Convert.
type ConvertParams struct {
	Mode        Mode
	InputPath   string
	InputBytes  []byte
	OutputFormat string
	OutputPath  string
}

// Convert issues the "convert" methodCall (spec §6) to hostPort and returns
// the result: in ModeStream, the raw (still base64-encoded) payload text
// from the response; in ModeFilePath, the acknowledged output path.
func (c *Client) Convert(hostPort string, p ConvertParams) (result string, elapsed time.Duration, err error) {
	var inpath, outpath xmlrpc.Value
	var indata xmlrpc.Value
	switch p.Mode {
	case ModeStream:
		inpath = xmlrpc.Nil()
		outpath = xmlrpc.Nil()
		indata = xmlrpc.Base64(encodeBase64(p.InputBytes))
	case ModeFilePath:
		inpath = xmlrpc.String(p.InputPath)
		outpath = xmlrpc.String(p.OutputPath)
		indata = xmlrpc.Nil()
	default:
		return "", 0, xrpcerr.New(xrpcerr.KindInvalidArgument, "unknown convert mode")
	}

	params := []xmlrpc.Value{
		inpath,
		indata,
		outpath,
		xmlrpc.String(p.OutputFormat),
		xmlrpc.Nil(),
		xmlrpc.Array(),
		xmlrpc.Bool(true),
		xmlrpc.Nil(),
	}

	start := time.Now()
	value, err := c.call(hostPort, "convert", params)
	elapsed = time.Since(start)
	if err != nil {
		return "", elapsed, err
	}

	switch p.Mode {
	case ModeStream:
		if value.Kind != xmlrpc.KindBase64 {
			return "", elapsed, xrpcerr.New(xrpcerr.KindMalformedResponse, "convert response did not contain a base64 value")
		}
		return value.Str, elapsed, nil
	default: // ModeFilePath
		return p.OutputPath, elapsed, nil
	}
}

// Ping issues a lightweight health probe. Any failure (connect, I/O,
// timeout, parse, fault) is reported as false without propagating an error,
// per spec §4.2.
func (c *Client) Ping(hostPort string) (ok bool, elapsed time.Duration) {
	start := time.Now()
	_, err := c.call(hostPort, "info", nil)
	elapsed = time.Since(start)
	return err == nil, elapsed
}

// GetSupportedFormats issues a diagnostic call and decodes the first
// response parameter.
func (c *Client) GetSupportedFormats(hostPort string) (xmlrpc.Value, error) {
	return c.call(hostPort, "getSupportedFormats", nil)
}

// call performs one full RPC round-trip: dial, write the HTTP request,
// read the response, extract and decode the XML body. It never retries;
// the Load Balancer is the sole retry authority (spec §7).
func (c *Client) call(hostPort, methodName string, params []xmlrpc.Value) (xmlrpc.Value, error) {
	conn, err := net.DialTimeout("tcp", hostPort, c.timeouts.Connect)
	if err != nil {
		c.log.Log(logsink.LevelWarning, "rpc connect failed", logsink.F("backend", hostPort), logsink.F("error", err))
		return xmlrpc.Value{}, xrpcerr.Wrap(classifyKind(err, xrpcerr.KindConnectFailure), "connect to "+hostPort, err)
	}
	defer conn.Close()

	body := xmlrpc.EncodeMethodCall(methodName, params)
	request := buildHTTPRequest(hostPort, body)

	if err := conn.SetWriteDeadline(time.Now().Add(c.timeouts.Write)); err != nil {
		return xmlrpc.Value{}, xrpcerr.Wrap(xrpcerr.KindSendFailure, "set write deadline", err)
	}
	if _, err := conn.Write(request); err != nil {
		c.log.Log(logsink.LevelWarning, "rpc send failed", logsink.F("backend", hostPort), logsink.F("error", err))
		return xmlrpc.Value{}, xrpcerr.Wrap(classifyKind(err, xrpcerr.KindSendFailure), "write request to "+hostPort, err)
	}

	if err := conn.SetReadDeadline(time.Now().Add(c.timeouts.Read)); err != nil {
		return xmlrpc.Value{}, xrpcerr.Wrap(xrpcerr.KindRecvFailure, "set read deadline", err)
	}
	raw, err := readFullResponse(conn)
	if err != nil {
		c.log.Log(logsink.LevelWarning, "rpc recv failed", logsink.F("backend", hostPort), logsink.F("error", err))
		return xmlrpc.Value{}, xrpcerr.Wrap(classifyKind(err, xrpcerr.KindRecvFailure), "read response from "+hostPort, err)
	}
	if len(raw) == 0 {
		return xmlrpc.Value{}, xrpcerr.New(xrpcerr.KindRecvFailure, "empty response from "+hostPort)
	}
	if !statusLineOK(raw) {
		return xmlrpc.Value{}, xrpcerr.New(xrpcerr.KindMalformedResponse, "non-2xx HTTP status from "+hostPort)
	}

	xmlBody, err := extractXMLBody(raw)
	if err != nil {
		return xmlrpc.Value{}, xrpcerr.Wrap(xrpcerr.KindMalformedResponse, "extract xml body from "+hostPort, err)
	}

	value, err := xmlrpc.DecodeMethodResponse(xmlBody)
	if err != nil {
		var fault *xmlrpc.Fault
		if asFault(err, &fault) {
			return xmlrpc.Value{}, xrpcerr.Wrap(xrpcerr.KindUpstreamError, fault.Message, fault)
		}
		return xmlrpc.Value{}, xrpcerr.Wrap(xrpcerr.KindMalformedResponse, "decode response from "+hostPort, err)
	}
	return value, nil
}

func asFault(err error, target **xmlrpc.Fault) bool {
	if f, ok := err.(*xmlrpc.Fault); ok {
		*target = f
		return true
	}
	return false
}

func buildHTTPRequest(hostPort string, body []byte) []byte {
	var b bytes.Buffer
	fmt.Fprintf(&b, "POST / HTTP/1.1\r\n")
	fmt.Fprintf(&b, "Host: %s\r\n", hostPort)
	fmt.Fprintf(&b, "Content-Type: text/xml\r\n")
	fmt.Fprintf(&b, "Content-Length: %d\r\n", len(body))
	fmt.Fprintf(&b, "Connection: close\r\n")
	b.WriteString("\r\n")
	b.Write(body)
	return b.Bytes()
}

// readFullResponse reads until the peer closes the connection, which is
// always how this protocol signals end-of-response since every request
// sets Connection: close (spec §4.2 "Connection discipline").
func readFullResponse(conn net.Conn) ([]byte, error) {
	reader := bufio.NewReader(conn)
	var out bytes.Buffer
	if _, err := io.Copy(&out, reader); err != nil && err != io.EOF {
		return nil, err
	}
	return out.Bytes(), nil
}

// extractXMLBody slices the HTTP response body after the header
// terminator and trims it at the methodResponse closing tag (spec §6).
func extractXMLBody(raw []byte) ([]byte, error) {
	idx := bytes.Index(raw, []byte(headerTerminator))
	if idx < 0 {
		return nil, fmt.Errorf("no header terminator found in response")
	}
	body := raw[idx+len(headerTerminator):]
	endIdx := strings.Index(string(body), methodResponseEnd)
	if endIdx < 0 {
		return nil, fmt.Errorf("no methodResponse terminator found in response body")
	}
	return body[:endIdx+len(methodResponseEnd)], nil
}

// statusLineOK reports whether the HTTP response's first line indicates
// success, per spec §6's ping success definition (applied here to every
// call, not just ping, since a non-2xx status is never a valid RPC result).
func statusLineOK(raw []byte) bool {
	lineEnd := bytes.IndexByte(raw, '\n')
	if lineEnd < 0 {
		lineEnd = len(raw)
	}
	statusLine := string(raw[:lineEnd])
	fields := strings.Fields(statusLine)
	if len(fields) < 2 {
		return false
	}
	return len(fields[1]) == 3 && fields[1][0] == '2'
}

func encodeBase64(data []byte) string {
	return base64.StdEncoding.EncodeToString(data)
}
