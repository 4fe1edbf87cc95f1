package rpcclient_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"xrpclb/internal/xrpctest"
	"xrpclb/rpcclient"
	"xrpclb/xmlrpc"
	"xrpclb/xrpcerr"
)

func shortTimeouts() rpcclient.Timeouts {
	return rpcclient.Timeouts{
		Connect: 500 * time.Millisecond,
		Write:   500 * time.Millisecond,
		Read:    500 * time.Millisecond,
	}
}

func TestConvertStreamModeReturnsBase64Payload(t *testing.T) {
	t.Parallel()
	srv, err := xrpctest.Start(func(methodName string, params []xmlrpc.Value) (xmlrpc.Value, *xmlrpc.Fault) {
		require.Equal(t, "convert", methodName)
		require.Len(t, params, 8)
		assert.True(t, xmlrpc.Nil().Equal(params[0]))
		assert.True(t, xmlrpc.Base64("SGVsbG8=").Equal(params[1]))
		assert.True(t, xmlrpc.Nil().Equal(params[2]))
		return xmlrpc.Base64("SGVsbG8="), nil
	})
	require.NoError(t, err)
	defer srv.Close()

	client := rpcclient.New(rpcclient.WithTimeouts(shortTimeouts()))
	value, _, err := client.Convert(srv.Addr(), rpcclient.ConvertParams{
		Mode:         rpcclient.ModeStream,
		InputBytes:   []byte("Hello"),
		OutputFormat: "pdf",
	})
	require.NoError(t, err)
	assert.Equal(t, "SGVsbG8=", value)
}

func TestConvertFilePathModeReturnsOutputPath(t *testing.T) {
	t.Parallel()
	srv, err := xrpctest.Start(func(methodName string, params []xmlrpc.Value) (xmlrpc.Value, *xmlrpc.Fault) {
		return xmlrpc.String("ack"), nil
	})
	require.NoError(t, err)
	defer srv.Close()

	client := rpcclient.New(rpcclient.WithTimeouts(shortTimeouts()))
	value, _, err := client.Convert(srv.Addr(), rpcclient.ConvertParams{
		Mode:         rpcclient.ModeFilePath,
		InputPath:    "/a.odt",
		OutputFormat: "pdf",
		OutputPath:   "/a.pdf",
	})
	require.NoError(t, err)
	assert.Equal(t, "/a.pdf", value)
}

func TestConvertSurfacesFaultAsUpstreamError(t *testing.T) {
	t.Parallel()
	srv, err := xrpctest.Start(func(methodName string, params []xmlrpc.Value) (xmlrpc.Value, *xmlrpc.Fault) {
		return xmlrpc.Value{}, &xmlrpc.Fault{Code: 1, Message: "bad"}
	})
	require.NoError(t, err)
	defer srv.Close()

	client := rpcclient.New(rpcclient.WithTimeouts(shortTimeouts()))
	_, _, err = client.Convert(srv.Addr(), rpcclient.ConvertParams{Mode: rpcclient.ModeStream, OutputFormat: "pdf"})
	require.Error(t, err)
	assert.Equal(t, xrpcerr.KindUpstreamError, xrpcerr.Of(err))
}

func TestPingSucceedsAgainstLiveBackend(t *testing.T) {
	t.Parallel()
	srv, err := xrpctest.Start(func(methodName string, params []xmlrpc.Value) (xmlrpc.Value, *xmlrpc.Fault) {
		return xmlrpc.Struct(), nil
	})
	require.NoError(t, err)
	defer srv.Close()

	client := rpcclient.New(rpcclient.WithTimeouts(shortTimeouts()))
	ok, _ := client.Ping(srv.Addr())
	assert.True(t, ok)
}

func TestPingFailsOnConnectionRefused(t *testing.T) {
	t.Parallel()
	addr, err := xrpctest.RefusingAddr()
	require.NoError(t, err)

	client := rpcclient.New(rpcclient.WithTimeouts(shortTimeouts()))
	ok, _ := client.Ping(addr)
	assert.False(t, ok)
}

func TestPingFailsOnFault(t *testing.T) {
	t.Parallel()
	srv, err := xrpctest.Start(func(methodName string, params []xmlrpc.Value) (xmlrpc.Value, *xmlrpc.Fault) {
		return xmlrpc.Value{}, &xmlrpc.Fault{Code: 1, Message: "down"}
	})
	require.NoError(t, err)
	defer srv.Close()

	client := rpcclient.New(rpcclient.WithTimeouts(shortTimeouts()))
	ok, _ := client.Ping(srv.Addr())
	assert.False(t, ok)
}

func TestConvertFailsOnConnectionRefused(t *testing.T) {
	t.Parallel()
	addr, err := xrpctest.RefusingAddr()
	require.NoError(t, err)

	client := rpcclient.New(rpcclient.WithTimeouts(shortTimeouts()))
	_, _, err = client.Convert(addr, rpcclient.ConvertParams{Mode: rpcclient.ModeStream, OutputFormat: "pdf"})
	require.Error(t, err)
	assert.Equal(t, xrpcerr.KindConnectFailure, xrpcerr.Of(err))
}
