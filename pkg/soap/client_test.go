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

package soap

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jeremyhahn/go-konnektor/pkg/adapters/logger"
	"github.com/jeremyhahn/go-konnektor/pkg/errcodes"
	"github.com/jeremyhahn/go-konnektor/pkg/signing"
	"github.com/jeremyhahn/go-konnektor/pkg/transport"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testContext = Context{MandantID: "mandant1", ClientSystemID: "client1", WorkplaceID: "workplace1"}

const (
	cardsResponse = `<?xml version="1.0" encoding="UTF-8"?>
<soap:Envelope xmlns:soap="http://schemas.xmlsoap.org/soap/envelope/">
  <soap:Body>
    <EVT:GetCardsResponse xmlns:EVT="http://ws.gematik.de/conn/EventService/v7.2" xmlns:CONN="http://ws.gematik.de/conn/ConnectorCommon/v5.0" xmlns:CARD="http://ws.gematik.de/conn/CardService/v8.1" xmlns:CARDCMN="http://ws.gematik.de/conn/CardServiceCommon/v2.0" xmlns:GERROR="http://ws.gematik.de/tel/error/v2.0">
      <CONN:Status><CONN:Result>OK</CONN:Result></CONN:Status>
      <CARD:Cards>
        <CARD:Card>
          <CONN:CardHandle>HBA-1</CONN:CardHandle>
          <CARDCMN:CardType>HBA</CARDCMN:CardType>
          <CARDCMN:Iccsn>80276001011699900861</CARDCMN:Iccsn>
          <CARDCMN:CtId>CT1</CARDCMN:CtId>
          <CARDCMN:SlotId>1</CARDCMN:SlotId>
          <CARD:CardHolderName>Dr. Test</CARD:CardHolderName>
        </CARD:Card>
        <CARD:Card>
          <CONN:CardHandle>HBA-2</CONN:CardHandle>
          <CARDCMN:CardType>HBA</CARDCMN:CardType>
          <CARDCMN:Iccsn>80276001011699900862</CARDCMN:Iccsn>
          <CARDCMN:CtId>CT2</CARDCMN:CtId>
          <CARDCMN:SlotId>2</CARDCMN:SlotId>
        </CARD:Card>
      </CARD:Cards>
    </EVT:GetCardsResponse>
  </soap:Body>
</soap:Envelope>`

	terminalsResponse = `<soap:Envelope xmlns:soap="http://schemas.xmlsoap.org/soap/envelope/"><soap:Body>
<EVT:GetCardTerminalsResponse xmlns:EVT="e" xmlns:CONN="c" xmlns:CCTX="x">
  <CONN:Status><CONN:Result>OK</CONN:Result></CONN:Status>
  <CCTX:CardTerminals>
    <CCTX:CardTerminal>
      <CCTX:CtId>CT1</CCTX:CtId>
      <CCTX:Name>Terminal 1</CCTX:Name>
      <CCTX:IPAddress><CCTX:IPV4Address>10.0.0.5</CCTX:IPV4Address></CCTX:IPAddress>
      <CCTX:WorkplaceIds><CONN:WorkplaceId>workplace1</CONN:WorkplaceId></CCTX:WorkplaceIds>
      <CCTX:Connected>true</CCTX:Connected>
    </CCTX:CardTerminal>
    <CCTX:CardTerminal>
      <CCTX:CtId>CT2</CCTX:CtId>
      <CCTX:Name>Remote</CCTX:Name>
      <CCTX:WorkplaceIds/>
      <CCTX:Connected>false</CCTX:Connected>
    </CCTX:CardTerminal>
  </CCTX:CardTerminals>
</EVT:GetCardTerminalsResponse></soap:Body></soap:Envelope>`

	faultResponse = `<soap:Envelope xmlns:soap="http://schemas.xmlsoap.org/soap/envelope/"><soap:Body>
<soap:Fault>
  <faultcode>soap:Server</faultcode>
  <faultstring>Kartenhandle ungültig</faultstring>
  <detail>
    <GERROR:Error xmlns:GERROR="http://ws.gematik.de/tel/error/v2.0">
      <GERROR:MessageID>1</GERROR:MessageID>
      <GERROR:Trace>
        <GERROR:EventID>1</GERROR:EventID>
        <GERROR:Instance>x</GERROR:Instance>
        <GERROR:LogReference>y</GERROR:LogReference>
        <GERROR:CompType>Module</GERROR:CompType>
        <GERROR:Code>4047</GERROR:Code>
        <GERROR:Severity>Error</GERROR:Severity>
        <GERROR:ErrorType>Technical</GERROR:ErrorType>
        <GERROR:ErrorText>Kartenhandle ungültig</GERROR:ErrorText>
      </GERROR:Trace>
      <GERROR:Trace>
        <GERROR:Code>9999</GERROR:Code>
      </GERROR:Trace>
    </GERROR:Error>
  </detail>
</soap:Fault></soap:Body></soap:Envelope>`
)

func okBody(inner string) string {
	return `<soap:Envelope xmlns:soap="http://schemas.xmlsoap.org/soap/envelope/"><soap:Body><R xmlns:CONN="c">` +
		`<CONN:Status><CONN:Result>OK</CONN:Result></CONN:Status>` + inner + `</R></soap:Body></soap:Envelope>`
}

type staticResolver struct {
	base string
	ptv3 bool
	err  error
}

func (r *staticResolver) Resolve(_ context.Context, service string) (string, error) {
	if r.err != nil {
		return "", r.err
	}
	return r.base + "/ws/" + service, nil
}

func (r *staticResolver) IsPTV3(context.Context) (bool, error) {
	return r.ptv3, r.err
}

// fakeTransport records requests and replies with a fixed response.
type fakeTransport struct {
	mu       sync.Mutex
	requests []*transport.Request
	status   int
	body     string
	err      error
}

func (f *fakeTransport) Do(_ context.Context, req *transport.Request) (*transport.Response, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, req)
	if f.err != nil {
		return nil, f.err
	}
	status := f.status
	if status == 0 {
		status = http.StatusOK
	}
	return &transport.Response{Data: []byte(f.body), Status: status}, nil
}

func (f *fakeTransport) last() *transport.Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.requests[len(f.requests)-1]
}

func newFakeClient(ft *fakeTransport, ptv3 bool) *Client {
	return NewClient(Config{Host: "konnektor.local", Port: 8443},
		&staticResolver{base: "https://10.0.0.1:443", ptv3: ptv3}, ft, logger.Nop())
}

func TestRender_EscapesValues(t *testing.T) {
	cctx := Context{MandantID: `a<b&"c"`, ClientSystemID: "client1", WorkplaceID: "wp</m1:WorkplaceId>"}
	body, err := render("GetCards", GetCardsRequest{Context: cctx, CardType: CardTypeSMCB})
	require.NoError(t, err)

	s := string(body)
	assert.Contains(t, s, "<m1:MandantId>a&lt;b&amp;&#34;c&#34;</m1:MandantId>")
	assert.Contains(t, s, "<m1:WorkplaceId>wp&lt;/m1:WorkplaceId&gt;</m1:WorkplaceId>")
	assert.Contains(t, s, "<m2:CardType>SMC-B</m2:CardType>")
	assert.NotContains(t, s, "UserId")
}

func TestRender_UserID(t *testing.T) {
	body, err := render("GetCardTerminals", struct{ Context Context }{testContext.WithUserID("user-1")})
	require.NoError(t, err)
	assert.Contains(t, string(body), "<m1:UserId>user-1</m1:UserId>")
	assert.Empty(t, testContext.UserID)
}

func TestRewriteEndpoint(t *testing.T) {
	tests := []struct {
		name     string
		location string
		host     string
		port     int
		want     string
		wantErr  bool
	}{
		{"host and port replaced", "https://192.168.1.1:443/ws/CardService", "konnektor.local", 8443, "https://konnektor.local:8443/ws/CardService", false},
		{"discovered port kept", "https://192.168.1.1:4433/ws/EventService", "konnektor.local", 0, "https://konnektor.local:4433/ws/EventService", false},
		{"no port", "https://192.168.1.1/ws/EventService", "konnektor.local", 0, "https://konnektor.local/ws/EventService", false},
		{"scheme kept", "http://192.168.1.1:80/svc", "k", 81, "http://k:81/svc", false},
		{"empty host keeps discovered", "https://192.168.1.1:443/svc", "", 0, "https://192.168.1.1:443/svc", false},
		{"ipv6 host", "https://192.168.1.1:443/svc", "::1", 8443, "https://[::1]:8443/svc", false},
		{"relative location", "/ws/CardService", "k", 443, "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := rewriteEndpoint(tt.location, tt.host, tt.port)
			if tt.wantErr {
				assert.Equal(t, errcodes.ConnectorUnreachable, errcodes.CodeOf(err))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestGetCards(t *testing.T) {
	ft := &fakeTransport{body: cardsResponse}
	c := newFakeClient(ft, false)

	res, err := c.GetCards(context.Background(), GetCardsRequest{Context: testContext, CardType: CardTypeHBA})
	require.NoError(t, err)
	assert.Equal(t, "OK", res.Status)
	require.Len(t, res.Cards, 2)
	assert.Equal(t, Card{
		CardHandle:     "HBA-1",
		CardType:       CardTypeHBA,
		ICCSN:          "80276001011699900861",
		CtID:           "CT1",
		SlotID:         "1",
		CardHolderName: "Dr. Test",
	}, res.Cards[0])
	assert.Equal(t, "CT2", res.Cards[1].CtID)
	assert.Equal(t, cardsResponse, string(res.Raw))

	req := ft.last()
	assert.Equal(t, http.MethodPost, req.Method)
	assert.Equal(t, "https://konnektor.local:8443/ws/EventService", req.URL)
	assert.Equal(t, ContentType, req.Header.Get("Content-Type"))
	assert.Equal(t, ActionGetCards, req.Header.Get("SOAPAction"))
	assert.Equal(t, DefaultTimeout, req.Timeout)
	assert.Contains(t, string(req.Body), "<m:GetCards mandant-wide=\"false\">")
}

func TestGetCardTerminals(t *testing.T) {
	ft := &fakeTransport{body: terminalsResponse}
	c := newFakeClient(ft, false)

	res, err := c.GetCardTerminals(context.Background(), testContext)
	require.NoError(t, err)
	require.Len(t, res.Terminals, 2)

	assert.Equal(t, "CT1", res.Terminals[0].CtID)
	assert.Equal(t, "10.0.0.5", res.Terminals[0].IPAddress)
	assert.True(t, res.Terminals[0].Connected)
	assert.Equal(t, []string{"workplace1"}, res.Terminals[0].WorkplaceIDs)
	assert.True(t, res.Terminals[0].HasWorkplace())

	assert.False(t, res.Terminals[1].Connected)
	assert.False(t, res.Terminals[1].HasWorkplace())
	assert.Equal(t, ActionGetCardTerminals, ft.last().Header.Get("SOAPAction"))
}

func TestGetPinStatus(t *testing.T) {
	ft := &fakeTransport{body: okBody(`<CARD:PinStatus xmlns:CARD="p">VERIFIABLE</CARD:PinStatus><CARD:LeftTries xmlns:CARD="p">3</CARD:LeftTries>`)}
	c := newFakeClient(ft, false)

	res, err := c.GetPinStatus(context.Background(), PinRequest{Context: testContext, CardHandle: "H", PinType: CardTypeHBA.PinType()})
	require.NoError(t, err)
	assert.Equal(t, PinVerifiable, res.PinStatus)
	assert.Equal(t, "3", res.LeftTries)

	req := ft.last()
	assert.Equal(t, "https://konnektor.local:8443/ws/CardService", req.URL)
	assert.Equal(t, ActionGetPinStatus, req.Header.Get("SOAPAction"))
	assert.Contains(t, string(req.Body), "<m2:PinTyp>PIN.CH</m2:PinTyp>")
}

func TestGetPinStatus_MissingStatus(t *testing.T) {
	ft := &fakeTransport{body: okBody("")}
	c := newFakeClient(ft, false)

	_, err := c.GetPinStatus(context.Background(), PinRequest{Context: testContext, CardHandle: "H", PinType: "PIN.SMC"})
	assert.Equal(t, errcodes.PinStatusFailed, errcodes.CodeOf(err))
	assert.ErrorIs(t, err, ErrUnexpectedResponse)
}

func TestVerifyPin_UsesLongTimeout(t *testing.T) {
	ft := &fakeTransport{body: okBody(`<PinResult>OK</PinResult>`)}
	c := newFakeClient(ft, false)

	res, err := c.VerifyPin(context.Background(), PinRequest{Context: testContext, CardHandle: "H", PinType: "PIN.SMC"})
	require.NoError(t, err)
	assert.Equal(t, "OK", res.PinResult)

	req := ft.last()
	assert.Equal(t, DefaultVerifyPinTimeout, req.Timeout)
	assert.Equal(t, ActionVerifyPin, req.Header.Get("SOAPAction"))
}

func TestReadCardCertificate_TemplateByPTV(t *testing.T) {
	body := okBody(`<X509DataInfoList><X509DataInfo><X509Data><X509Certificate>MIIBcert</X509Certificate></X509Data></X509DataInfo></X509DataInfoList>`)

	tests := []struct {
		name      string
		ptv3      bool
		wantCrypt bool
	}{
		{"PTV4 sends Crypt", false, true},
		{"PTV3 omits Crypt", true, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ft := &fakeTransport{body: body}
			c := newFakeClient(ft, tt.ptv3)

			res, err := c.ReadCardCertificate(context.Background(), ReadCertificateRequest{
				Context: testContext, CardHandle: "H", CertRef: "C.AUT", Crypt: signing.AlgorithmECC,
			})
			require.NoError(t, err)
			assert.Equal(t, "MIIBcert", res.Certificate)

			req := ft.last()
			assert.Equal(t, "https://konnektor.local:8443/ws/CertificateService", req.URL)
			assert.Equal(t, ActionReadCardCertificate, req.Header.Get("SOAPAction"))
			assert.Contains(t, string(req.Body), "C.AUT")
			assert.Equal(t, tt.wantCrypt, strings.Contains(string(req.Body), "<m:Crypt>ECC</m:Crypt>"))
		})
	}
}

func TestReadCardCertificate_NoCertificate(t *testing.T) {
	c := newFakeClient(&fakeTransport{body: okBody("")}, false)
	_, err := c.ReadCardCertificate(context.Background(), ReadCertificateRequest{Context: testContext, CardHandle: "H", CertRef: "C.AUT"})
	assert.Equal(t, errcodes.CertificateReadFailed, errcodes.CodeOf(err))
}

func TestExternalAuthenticate_SignParams(t *testing.T) {
	tests := []struct {
		name       string
		alg        signing.Algorithm
		wantType   string
		wantScheme bool
	}{
		{"ECC", signing.AlgorithmECC, SignatureTypeECC, false},
		{"RSA", signing.AlgorithmRSA, SignatureTypeRSA, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ft := &fakeTransport{body: okBody(`<dss:SignatureObject xmlns:dss="d"><dss:Base64Signature Type="x">c2ln</dss:Base64Signature></dss:SignatureObject>`)}
			c := newFakeClient(ft, false)

			res, err := c.ExternalAuthenticate(context.Background(), ExternalAuthenticateRequest{
				Context: testContext, CardHandle: "H", Sign: SignParamsFor(tt.alg, "aGFzaA=="),
			})
			require.NoError(t, err)
			assert.Equal(t, "c2ln", res.Signature)

			req := ft.last()
			body := string(req.Body)
			assert.Equal(t, "https://konnektor.local:8443/ws/AuthSignatureService", req.URL)
			assert.Equal(t, ActionExternalAuthenticate, req.Header.Get("SOAPAction"))
			assert.Contains(t, body, "<dss:SignatureType>"+tt.wantType+"</dss:SignatureType>")
			assert.Contains(t, body, ">aGFzaA==</dss:Base64Data>")
			assert.Equal(t, tt.wantScheme, strings.Contains(body, "<m:SignatureSchemes>RSASSA-PSS</m:SignatureSchemes>"))
		})
	}
}

func TestFault(t *testing.T) {
	for _, status := range []int{http.StatusOK, http.StatusInternalServerError} {
		t.Run(strconv.Itoa(status), func(t *testing.T) {
			c := newFakeClient(&fakeTransport{status: status, body: faultResponse}, false)

			_, err := c.GetCards(context.Background(), GetCardsRequest{Context: testContext, CardType: CardTypeHBA})
			require.Error(t, err)

			var f *Fault
			require.True(t, errors.As(err, &f))
			assert.Equal(t, "4047", f.Code)
			assert.Equal(t, "Error", f.Severity)
			assert.Equal(t, "Technical", f.ErrorType)
			assert.Equal(t, "Kartenhandle ungültig", f.ErrorText)
			assert.Equal(t, "Kartenhandle ungültig", f.FaultString)
			assert.Equal(t, status, f.HTTPStatus)
			assert.Equal(t, errcodes.ConnectorCardHandleInvalid, errcodes.CodeOf(err))
		})
	}
}

func TestFault_SeverityWithoutFaultElement(t *testing.T) {
	body := okBody(`<Error><Trace><Code>4092</Code><Severity>Error</Severity></Trace></Error>`)
	c := newFakeClient(&fakeTransport{body: body}, false)

	_, err := c.VerifyPin(context.Background(), PinRequest{Context: testContext, CardHandle: "H", PinType: "PIN.CH"})
	var f *Fault
	require.True(t, errors.As(err, &f))
	assert.Equal(t, "4092", f.Code)
	assert.Equal(t, errcodes.RemotePinUnsupported, errcodes.CodeOf(err))
}

func TestErrors(t *testing.T) {
	tests := []struct {
		name string
		ft   *fakeTransport
		want errcodes.Code
	}{
		{"http status without fault", &fakeTransport{status: http.StatusServiceUnavailable, body: "busy"}, errcodes.UnexpectedHTTPStatus},
		{"unparsable body", &fakeTransport{body: "<unclosed"}, errcodes.ResponseUnparsable},
		{"transport failure", &fakeTransport{err: transport.ErrRequestFailed}, errcodes.ConnectorUnreachable},
		{"cancelled", &fakeTransport{err: context.Canceled}, errcodes.Cancelled},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newFakeClient(tt.ft, false)
			_, err := c.GetCardTerminals(context.Background(), testContext)
			assert.Equal(t, tt.want, errcodes.CodeOf(err))
		})
	}
}

func TestResolverFailure(t *testing.T) {
	c := NewClient(Config{}, &staticResolver{err: errors.New("sds down")}, &fakeTransport{}, nil)
	_, err := c.GetCards(context.Background(), GetCardsRequest{Context: testContext, CardType: CardTypeHBA})
	assert.Equal(t, errcodes.ConnectorUnreachable, errcodes.CodeOf(err))
}

func TestMissingParameters(t *testing.T) {
	ft := &fakeTransport{body: okBody("")}
	c := newFakeClient(ft, false)
	ctx := context.Background()

	_, err := c.GetCardTerminals(ctx, Context{MandantID: "m", ClientSystemID: "c"})
	assert.ErrorIs(t, err, ErrMissingParameter)
	_, err = c.GetCards(ctx, GetCardsRequest{Context: testContext})
	assert.ErrorIs(t, err, ErrMissingParameter)
	_, err = c.GetPinStatus(ctx, PinRequest{Context: testContext, PinType: "PIN.CH"})
	assert.ErrorIs(t, err, ErrMissingParameter)
	_, err = c.VerifyPin(ctx, PinRequest{Context: testContext, CardHandle: "H"})
	assert.ErrorIs(t, err, ErrMissingParameter)
	_, err = c.ReadCardCertificate(ctx, ReadCertificateRequest{Context: testContext, CardHandle: "H"})
	assert.ErrorIs(t, err, ErrMissingParameter)
	_, err = c.ExternalAuthenticate(ctx, ExternalAuthenticateRequest{Context: testContext, CardHandle: "H"})
	assert.ErrorIs(t, err, ErrMissingParameter)

	assert.Empty(t, ft.requests)
}

func TestParseCardType(t *testing.T) {
	for in, want := range map[string]CardType{"HBA": CardTypeHBA, "hba": CardTypeHBA, "SMC-B": CardTypeSMCB, "smcb": CardTypeSMCB} {
		got, err := ParseCardType(in)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
	_, err := ParseCardType("eGK")
	assert.ErrorIs(t, err, ErrMissingParameter)

	assert.Equal(t, "PIN.CH", CardTypeHBA.PinType())
	assert.Equal(t, "PIN.SMC", CardTypeSMCB.PinType())
}

func TestClient_OverHTTPS(t *testing.T) {
	var gotAction, gotType string
	srv := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAction = r.Header.Get("SOAPAction")
		gotType = r.Header.Get("Content-Type")
		assert.Equal(t, "/ws/EventService", r.URL.Path)
		_, _ = w.Write([]byte(cardsResponse))
	}))
	defer srv.Close()

	u, err := url.Parse(srv.URL)
	require.NoError(t, err)
	port, err := strconv.Atoi(u.Port())
	require.NoError(t, err)

	tr := transport.NewWithClient(srv.Client(), transport.Config{Timeout: 5 * time.Second}, logger.Nop())
	c := NewClient(Config{Host: u.Hostname(), Port: port},
		&staticResolver{base: "https://192.0.2.1:443"}, tr, logger.Nop())

	res, err := c.GetCards(context.Background(), GetCardsRequest{Context: testContext, CardType: CardTypeHBA})
	require.NoError(t, err)
	assert.Len(t, res.Cards, 2)
	assert.Equal(t, ActionGetCards, gotAction)
	assert.Equal(t, ContentType, gotType)
}
