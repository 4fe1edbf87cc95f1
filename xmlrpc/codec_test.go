package xmlrpc_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"xrpclb/xmlrpc"
)

func roundTrip(t *testing.T, v xmlrpc.Value) xmlrpc.Value {
	t.Helper()
	doc := xmlrpc.EncodeMethodResponse(v)
	got, err := xmlrpc.DecodeMethodResponse(doc)
	require.NoError(t, err)
	return got
}

func TestRoundTripScalars(t *testing.T) {
	t.Parallel()
	cases := []xmlrpc.Value{
		xmlrpc.String("hello <world> & \"friends\""),
		xmlrpc.Int(-42),
		xmlrpc.Double(3.25),
		xmlrpc.Bool(true),
		xmlrpc.Bool(false),
		xmlrpc.Base64("SGVsbG8="),
		xmlrpc.Nil(),
	}
	for _, v := range cases {
		got := roundTrip(t, v)
		assert.True(t, v.Equal(got), "expected %+v, got %+v", v, got)
	}
}

func TestRoundTripArray(t *testing.T) {
	t.Parallel()
	v := xmlrpc.Array(xmlrpc.Int(1), xmlrpc.String("two"), xmlrpc.Nil())
	got := roundTrip(t, v)
	assert.True(t, v.Equal(got))
}

func TestRoundTripStruct(t *testing.T) {
	t.Parallel()
	v := xmlrpc.Struct(
		xmlrpc.M("faultCode", xmlrpc.Int(7)),
		xmlrpc.M("faultString", xmlrpc.String("bad")),
	)
	got := roundTrip(t, v)
	assert.True(t, v.Equal(got))
}

func TestRoundTripNestedArrayOfStructs(t *testing.T) {
	t.Parallel()
	v := xmlrpc.Array(
		xmlrpc.Struct(xmlrpc.M("name", xmlrpc.String("a"))),
		xmlrpc.Struct(xmlrpc.M("name", xmlrpc.String("b"))),
	)
	got := roundTrip(t, v)
	assert.True(t, v.Equal(got))
}

func TestDecodeAcceptsI4(t *testing.T) {
	t.Parallel()
	doc := []byte(`<?xml version="1.0"?><methodResponse><params><param><value><i4>9</i4></value></param></params></methodResponse>`)
	got, err := xmlrpc.DecodeMethodResponse(doc)
	require.NoError(t, err)
	assert.True(t, xmlrpc.Int(9).Equal(got))
}

func TestDecodeFault(t *testing.T) {
	t.Parallel()
	doc := xmlrpc.EncodeFault(3, "boom")
	_, err := xmlrpc.DecodeMethodResponse(doc)
	require.Error(t, err)
	var fault *xmlrpc.Fault
	require.ErrorAs(t, err, &fault)
	assert.Equal(t, 3, fault.Code)
	assert.Equal(t, "boom", fault.Message)
}

func TestEncodeMethodCallConvertFilePathOrder(t *testing.T) {
	t.Parallel()
	params := []xmlrpc.Value{
		xmlrpc.String("/a.odt"),
		xmlrpc.Nil(),
		xmlrpc.String("/a.pdf"),
		xmlrpc.String("pdf"),
		xmlrpc.Nil(),
		xmlrpc.Array(),
		xmlrpc.Bool(true),
		xmlrpc.Nil(),
	}
	doc := xmlrpc.EncodeMethodCall("convert", params)
	methodName, decoded, err := xmlrpc.DecodeMethodCall(doc)
	require.NoError(t, err)
	assert.Equal(t, "convert", methodName)
	require.Len(t, decoded, 8)
	assert.True(t, xmlrpc.String("/a.odt").Equal(decoded[0]))
	assert.True(t, xmlrpc.Nil().Equal(decoded[1]))
	assert.True(t, xmlrpc.String("/a.pdf").Equal(decoded[2]))
	assert.True(t, xmlrpc.String("pdf").Equal(decoded[3]))
	assert.True(t, xmlrpc.Bool(true).Equal(decoded[6]))
}
