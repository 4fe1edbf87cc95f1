package xrpclb_test

import (
	"net"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"xrpclb"
	"xrpclb/internal/xrpctest"
	"xrpclb/rpcclient"
	"xrpclb/xmlrpc"
)

func addrBackend(t *testing.T, addr string) xrpclb.Backend {
	t.Helper()
	host, portStr, err := net.SplitHostPort(addr)
	require.NoError(t, err)
	port, err := strconv.ParseUint(portStr, 10, 16)
	require.NoError(t, err)
	return xrpclb.Backend{Host: host, Port: uint16(port)}
}

func TestClientConvertAsyncEndToEnd(t *testing.T) {
	t.Parallel()
	srv, err := xrpctest.Start(func(methodName string, params []xmlrpc.Value) (xmlrpc.Value, *xmlrpc.Fault) {
		if methodName == "info" {
			// client.Start launches the health monitor, whose probes reach
			// this same backend.
			return xmlrpc.Struct(), nil
		}
		require.Equal(t, "convert", methodName)
		return xmlrpc.Base64("d29ybGQ="), nil
	})
	require.NoError(t, err)
	defer srv.Close()

	client, err := xrpclb.New([]xrpclb.Backend{addrBackend(t, srv.Addr())},
		xrpclb.WithConcurrency(2),
		xrpclb.WithRequestTimeout(5*time.Second),
		xrpclb.WithRPCTimeouts(rpcclient.Timeouts{
			Connect: time.Second, Write: time.Second, Read: time.Second,
		}),
	)
	require.NoError(t, err)
	client.Start()
	defer client.Stop()

	value, err := client.ConvertAsync(xrpclb.ConvertParams{
		Mode:         xrpclb.ModeStream,
		InputBytes:   []byte("hello"),
		OutputFormat: "pdf",
	})
	require.NoError(t, err)
	assert.Equal(t, "d29ybGQ=", value)

	metrics := client.ServerMetrics()
	require.Len(t, metrics, 1)
	assert.EqualValues(t, 1, metrics[0].Requests)

	health := client.HealthSnapshot()
	require.Len(t, health, 1)
	assert.True(t, health[0].Healthy)
}

func TestNewRejectsInvalidPool(t *testing.T) {
	t.Parallel()
	_, err := xrpclb.New(nil)
	require.Error(t, err)
}

func TestClientSupportedFormatsDecodesArray(t *testing.T) {
	t.Parallel()
	srv, err := xrpctest.Start(func(methodName string, params []xmlrpc.Value) (xmlrpc.Value, *xmlrpc.Fault) {
		require.Equal(t, "getSupportedFormats", methodName)
		return xmlrpc.Value{Kind: xmlrpc.KindArray, Array: []xmlrpc.Value{
			xmlrpc.String("pdf"),
			xmlrpc.String("odt"),
		}}, nil
	})
	require.NoError(t, err)
	defer srv.Close()

	client, err := xrpclb.New([]xrpclb.Backend{addrBackend(t, srv.Addr())},
		xrpclb.WithRPCTimeouts(rpcclient.Timeouts{
			Connect: time.Second, Write: time.Second, Read: time.Second,
		}),
	)
	require.NoError(t, err)

	formats, err := client.SupportedFormats(0)
	require.NoError(t, err)
	assert.Equal(t, []string{"pdf", "odt"}, formats)
}
