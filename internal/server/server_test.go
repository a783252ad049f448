// Copyright (c) 2025 Jeremy Hahn
// Copyright (c) 2025 Automate The Things, LLC
//
// This file is part of go-konnektor.
//
// go-konnektor is dual-licensed:
//
// 1. GNU Affero General Public License v3.0 (AGPL-3.0)
//    See LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html
//
// 2. Commercial License
//    Contact licensing@automatethethings.com for commercial licensing options.

package server

import (
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"strconv"
	"sync/atomic"
	"testing"

	"github.com/jeremyhahn/go-konnektor/internal/config"
	"github.com/jeremyhahn/go-konnektor/internal/rest"
	"github.com/jeremyhahn/go-konnektor/pkg/adapters/logger"
	"github.com/jeremyhahn/go-konnektor/pkg/userid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sds = `<ConnectorServices xmlns:si="http://ws.gematik.de/conn/ServiceInformation/v2.0">
  <ProductInformation><ProductTypeInformation><ProductTypeVersion>4.80.3</ProductTypeVersion></ProductTypeInformation></ProductInformation>
  <si:ServiceInformation>
    <si:Service Name="EventService"><si:Versions><si:Version Version="7.2.0">
      <si:EndpointTLS Location="https://kon.internal/ws/EventService"/>
    </si:Version></si:Versions></si:Service>
    <si:Service Name="CardService"><si:Versions><si:Version Version="8.1.2">
      <si:EndpointTLS Location="https://kon.internal/ws/CardService"/>
    </si:Version></si:Versions></si:Service>
  </si:ServiceInformation>
</ConnectorServices>`

const terminals = `<soap:Envelope xmlns:soap="http://schemas.xmlsoap.org/soap/envelope/"><soap:Body>
<EVT:GetCardTerminalsResponse xmlns:EVT="e" xmlns:CONN="c" xmlns:CCTX="x">
  <CONN:Status><CONN:Result>OK</CONN:Result></CONN:Status>
  <CCTX:CardTerminals>
    <CCTX:CardTerminal>
      <CCTX:CtId>CT1</CCTX:CtId>
      <CCTX:Name>Empfang</CCTX:Name>
      <CCTX:WorkplaceIds><CONN:WorkplaceId>wp1</CONN:WorkplaceId></CCTX:WorkplaceIds>
      <CCTX:Connected>true</CCTX:Connected>
    </CCTX:CardTerminal>
  </CCTX:CardTerminals>
</EVT:GetCardTerminalsResponse></soap:Body></soap:Envelope>`

// newFakeConnector serves the service directory and GetCardTerminals.
func newFakeConnector(t *testing.T) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	sdsReads := new(atomic.Int32)
	srv := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/connector.sds", "/alt.sds":
			sdsReads.Add(1)
			_, _ = w.Write([]byte(sds))
		case "/ws/EventService":
			w.Header().Set("Content-Type", "text/xml")
			_, _ = w.Write([]byte(terminals))
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)
	return srv, sdsReads
}

func testConfig(t *testing.T, connectorURL string) *config.Config {
	t.Helper()
	u, err := url.Parse(connectorURL)
	require.NoError(t, err)
	host, portStr, err := net.SplitHostPort(u.Host)
	require.NoError(t, err)
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)

	cfg := config.Default()
	cfg.Connector.Host = host
	cfg.Connector.Port = port
	cfg.Connector.RejectUnauthorized = false
	cfg.Connector.NoProxy = true
	cfg.Context = config.ContextConfig{MandantID: "m1", ClientSystemID: "cs1", WorkplaceID: "wp1"}
	cfg.API.Port = 0
	cfg.API.RateLimit.Enabled = false
	return cfg
}

func startServer(t *testing.T, cfg *config.Config) *Server {
	t.Helper()
	s, err := New(cfg, logger.Nop())
	require.NoError(t, err)
	require.NoError(t, s.Start())
	t.Cleanup(func() { _ = s.Shutdown() })
	return s
}

func TestServer_EndToEnd(t *testing.T) {
	connector, _ := newFakeConnector(t)
	s := startServer(t, testConfig(t, connector.URL))
	base := "http://" + s.Addr().String()

	resp, err := http.Get(base + "/api/v1/terminals")
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body rest.TerminalsResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	require.Len(t, body.Terminals, 1)
	assert.Equal(t, "CT1", body.Terminals[0].CtID)

	live, err := http.Get(base + "/health/live")
	require.NoError(t, err)
	_ = live.Body.Close()
	assert.Equal(t, http.StatusOK, live.StatusCode)

	metrics, err := http.Get(base + "/metrics")
	require.NoError(t, err)
	_ = metrics.Body.Close()
	assert.Equal(t, http.StatusOK, metrics.StatusCode)
}

func TestServer_ShutdownIsIdempotent(t *testing.T) {
	connector, _ := newFakeConnector(t)
	s, err := New(testConfig(t, connector.URL), logger.Nop())
	require.NoError(t, err)
	require.NoError(t, s.Start())

	require.NoError(t, s.Shutdown())
	require.NoError(t, s.Shutdown())
	s.WaitForShutdown()
	assert.False(t, s.Components().Diagnostics.Checker().IsStarted())
}

func TestNew_InvalidAPIAuth(t *testing.T) {
	cfg := testConfig(t, "https://127.0.0.1:1")
	cfg.API.Auth.Type = "kerberos"
	_, err := New(cfg, logger.Nop())
	assert.Error(t, err)
}

func TestBuild_UserIDStore(t *testing.T) {
	cfg := testConfig(t, "https://127.0.0.1:1")
	cfg.UserID.StorePath = filepath.Join(t.TempDir(), "ids.yaml")

	c, err := Build(cfg, nil, nil)
	require.NoError(t, err)
	defer c.Close()

	id, err := c.UserIDs.UserID(t.Context(), "80276001011699900861")
	require.NoError(t, err)

	store, err := userid.NewFileStore(cfg.UserID.StorePath)
	require.NoError(t, err)
	got, ok, err := store.Get(userid.Key("80276001011699900861"))
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, id, got)
}

func TestBuild_InvalidSignType(t *testing.T) {
	cfg := testConfig(t, "https://127.0.0.1:1")
	cfg.Sign.Type = "DSA"
	_, err := Build(cfg, nil, nil)
	assert.Error(t, err)
}

func TestReload(t *testing.T) {
	connector, sdsReads := newFakeConnector(t)
	cfg := testConfig(t, connector.URL)
	s := startServer(t, cfg)
	base := "http://" + s.Addr().String()

	get := func() {
		resp, err := http.Get(base + "/api/v1/terminals")
		require.NoError(t, err)
		_ = resp.Body.Close()
		require.Equal(t, http.StatusOK, resp.StatusCode)
	}
	get()
	get()
	require.EqualValues(t, 1, sdsReads.Load())

	t.Run("logging", func(t *testing.T) {
		next := *cfg
		next.Logging = config.LoggingConfig{Level: "debug", Format: "json"}
		require.NoError(t, s.Reload(&next))
		get()
		assert.EqualValues(t, 2, sdsReads.Load())
	})

	t.Run("service directory path", func(t *testing.T) {
		next := *cfg
		next.Logging = config.LoggingConfig{Level: "debug", Format: "json"}
		next.Connector.SDSPath = "/alt.sds"
		require.NoError(t, s.Reload(&next))
		assert.Equal(t, "/alt.sds", s.Components().Resolver.Config().SDSPath)
		get()
		assert.EqualValues(t, 3, sdsReads.Load())
	})

	t.Run("restart required", func(t *testing.T) {
		next := *cfg
		next.Connector.Host = "10.0.0.1"
		next.Context.WorkplaceID = "wp2"
		err := s.Reload(&next)
		require.Error(t, err)
		assert.True(t, errors.Is(err, ErrRestartRequired))
		assert.Contains(t, err.Error(), "connector, context")
	})
}
