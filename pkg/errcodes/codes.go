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

// Package errcodes is the canonical error catalog of the authenticator.
//
// Every failure that reaches a caller is expressed as an *Error carrying one of
// the AUTHCL codes below. Connector fault codes (the numeric codes found in SOAP
// fault details) are translated exclusively through FromFault.
package errcodes

// Code is a canonical application error identifier.
type Code string

// Class tells the caller how to present an error.
type Class int

const (
	// ClassFatal is an internal or configuration problem; the user should contact support.
	ClassFatal Class = iota
	// ClassWarning is a problem the user can resolve (wrong PIN, card in use, ...).
	ClassWarning
	// ClassHint is not an error; it asks the caller for a choice or an action.
	ClassHint
)

// String returns the class name.
func (c Class) String() string {
	switch c {
	case ClassFatal:
		return "fatal"
	case ClassWarning:
		return "warning"
	case ClassHint:
		return "hint"
	default:
		return "unknown"
	}
}

// Application error codes.
const (
	InvalidLauncherParameter Code = "AUTHCL_0001"
	IdpError                 Code = "AUTHCL_0002"
	JwsHashingFailed         Code = "AUTHCL_0003"
	JwsSignatureInvalid      Code = "AUTHCL_0004"
	AuthResponseInvalid      Code = "AUTHCL_0005"
	Cancelled                Code = "AUTHCL_0006"
	InvalidRedirectURI       Code = "AUTHCL_0007"
	ConfigSavePermission     Code = "AUTHCL_0008"

	CardHandleUnavailable Code = "AUTHCL_1001"
	TerminalsUnreadable   Code = "AUTHCL_1003"

	// Codes mirrored from connector faults.
	ConnectorInvalidMandant          Code = "AUTHCL_1004"
	ConnectorInvalidClientSystem     Code = "AUTHCL_1005"
	ConnectorInvalidWorkplace        Code = "AUTHCL_1006"
	ConnectorClientNotAssigned       Code = "AUTHCL_1010"
	ConnectorWorkplaceNotAssigned    Code = "AUTHCL_1011"
	ConnectorTerminalNotAssigned     Code = "AUTHCL_1012"
	ConnectorWorkplaceClientMismatch Code = "AUTHCL_1014"
	ConnectorTerminalUnreachable     Code = "AUTHCL_1015"
	ConnectorTerminalNotLocal        Code = "AUTHCL_1016"
	ConnectorCardHandleExpired       Code = "AUTHCL_1018"
	ConnectorTerminalNoWorkplace     Code = "AUTHCL_1020"
	ConnectorContextIncomplete       Code = "AUTHCL_1021"
	ConnectorCardHandleInvalid       Code = "AUTHCL_1047"
	ConnectorPinCancelled            Code = "AUTHCL_1049"
	ConnectorClientNotAuthenticated  Code = "AUTHCL_1204"

	ConnectorUnreachable     Code = "AUTHCL_1100"
	PinStatusFailed          Code = "AUTHCL_1101"
	PinVerifyFailed          Code = "AUTHCL_1102"
	PinBlocked               Code = "AUTHCL_1103"
	RemotePinUnsupported     Code = "AUTHCL_1104"
	MultipleCards            Code = "AUTHCL_1105"
	SmcbPinNotVerified       Code = "AUTHCL_1106"
	CertificateReadFailed    Code = "AUTHCL_1107"
	SigningFailed            Code = "AUTHCL_1108"
	ResponseUnparsable       Code = "AUTHCL_1110"
	CertificateInvalid       Code = "AUTHCL_1111"
	NoCardTerminals          Code = "AUTHCL_1113"
	ClientKeyInvalid         Code = "AUTHCL_1114"
	ClientCertificateInvalid Code = "AUTHCL_1115"
	UnknownConnectorError    Code = "AUTHCL_1116"
	SignatureInvalid         Code = "AUTHCL_1117"
	UnexpectedHTTPStatus     Code = "AUTHCL_1118"
	ConfigReadFailed         Code = "AUTHCL_1119"
	TransportPinActive       Code = "AUTHCL_1120"
	CardSessionBusy          Code = "AUTHCL_1121"

	PlaceCards Code = "AUTHCL_2001"
	EnterPin   Code = "AUTHCL_2002"
)

// Entry describes a catalog code.
type Entry struct {
	Code        Code
	Class       Class
	Description string
}

var catalog = map[Code]Entry{
	InvalidLauncherParameter: {InvalidLauncherParameter, ClassFatal, "Invalid launcher parameter received"},
	IdpError:                 {IdpError, ClassFatal, "IdP returned error or undefined IdP error"},
	JwsHashingFailed:         {JwsHashingFailed, ClassFatal, "JWS hashing failed"},
	JwsSignatureInvalid:      {JwsSignatureInvalid, ClassFatal, "JWS signature missing or invalid"},
	AuthResponseInvalid:      {AuthResponseInvalid, ClassFatal, "Auth response validation failed"},
	Cancelled:                {Cancelled, ClassWarning, "The operation was cancelled by the user"},
	InvalidRedirectURI:       {InvalidRedirectURI, ClassFatal, "Invalid redirect uri or protocol"},
	ConfigSavePermission:     {ConfigSavePermission, ClassWarning, "No permission to save the config file"},

	CardHandleUnavailable: {CardHandleUnavailable, ClassFatal, "Can not get card handle"},
	TerminalsUnreadable:   {TerminalsUnreadable, ClassFatal, "Could not read the terminals"},

	ConnectorInvalidMandant:          {ConnectorInvalidMandant, ClassFatal, "ConErr: 4004 => Ungültige Mandanten-ID"},
	ConnectorInvalidClientSystem:     {ConnectorInvalidClientSystem, ClassFatal, "ConErr: 4005 => Ungültige Clientsystem-ID"},
	ConnectorInvalidWorkplace:        {ConnectorInvalidWorkplace, ClassFatal, "ConErr: 4006 => Ungültige Arbeitsplatz-ID"},
	ConnectorClientNotAssigned:       {ConnectorClientNotAssigned, ClassFatal, "ConErr: 4010 => Clientsystem ist dem Mandanten nicht zugeordnet"},
	ConnectorWorkplaceNotAssigned:    {ConnectorWorkplaceNotAssigned, ClassFatal, "ConErr: 4011 => Arbeitsplatz ist dem Mandanten nicht zugeordnet"},
	ConnectorTerminalNotAssigned:     {ConnectorTerminalNotAssigned, ClassFatal, "ConErr: 4012 => Kartenterminal ist dem Mandanten nicht zugeordnet"},
	ConnectorWorkplaceClientMismatch: {ConnectorWorkplaceClientMismatch, ClassFatal, "ConErr: 4014 => Für den Mandanten ist der Arbeitsplatz nicht dem Clientsystem zugeordnet"},
	ConnectorTerminalUnreachable:     {ConnectorTerminalUnreachable, ClassFatal, "ConErr: 4015 => Kartenterminal ist weder lokal noch entfernt vom Arbeitsplatz aus zugreifbar"},
	ConnectorTerminalNotLocal:        {ConnectorTerminalNotLocal, ClassFatal, "ConErr: 4016 => Kartenterminal ist nicht lokal vom Arbeitsplatz aus zugreifbar"},
	ConnectorCardHandleExpired:       {ConnectorCardHandleExpired, ClassWarning, "ConErr: 4018 => Kartenhandle ist nicht mehr gültig"},
	ConnectorTerminalNoWorkplace:     {ConnectorTerminalNoWorkplace, ClassFatal, "ConErr: 4020 => Kartenterminal ist über keinen Arbeitsplatz des Clientsystems zugreifbar"},
	ConnectorContextIncomplete:       {ConnectorContextIncomplete, ClassFatal, "ConErr: 4021 => Es sind nicht alle Pflichtparameter mandantId, clientSystemId, workplaceId gefüllt"},
	ConnectorCardHandleInvalid:       {ConnectorCardHandleInvalid, ClassFatal, "ConErr: 4047 => Card handle ungültig, wrong card or missing pin"},
	ConnectorPinCancelled:            {ConnectorPinCancelled, ClassWarning, "ConErr: 4049 => User cancelled the PIN process at the connector"},
	ConnectorClientNotAuthenticated:  {ConnectorClientNotAuthenticated, ClassFatal, "ConErr: 4204 => Clientsystem aus dem Aufrufkontext konnte nicht authentifiziert werden"},

	ConnectorUnreachable:     {ConnectorUnreachable, ClassFatal, "Could not connect to connector"},
	PinStatusFailed:          {PinStatusFailed, ClassFatal, "Check PIN status error"},
	PinVerifyFailed:          {PinVerifyFailed, ClassWarning, "PIN verify error. User entered a wrong PIN or cancelled the process"},
	PinBlocked:               {PinBlocked, ClassWarning, "Invalid PIN status: REJECTED or BLOCKED"},
	RemotePinUnsupported:     {RemotePinUnsupported, ClassWarning, "ConErr: 4092 or remote PIN verification is not possible"},
	MultipleCards:            {MultipleCards, ClassHint, "Several cards found for a single card type"},
	SmcbPinNotVerified:       {SmcbPinNotVerified, ClassWarning, "SMC-B PIN is not verified and remote PIN verification is disabled"},
	CertificateReadFailed:    {CertificateReadFailed, ClassFatal, "Get card certificate failed"},
	SigningFailed:            {SigningFailed, ClassFatal, "Error occurred while signing challenge"},
	ResponseUnparsable:       {ResponseUnparsable, ClassFatal, "Response could not be parsed"},
	CertificateInvalid:       {CertificateInvalid, ClassFatal, "Card certificate not found or invalid"},
	NoCardTerminals:          {NoCardTerminals, ClassFatal, "No card terminals found"},
	ClientKeyInvalid:         {ClientKeyInvalid, ClassFatal, "Invalid private key for connector"},
	ClientCertificateInvalid: {ClientCertificateInvalid, ClassFatal, "Invalid certificate for connector"},
	UnknownConnectorError:    {UnknownConnectorError, ClassFatal, "Unknown connector error"},
	SignatureInvalid:         {SignatureInvalid, ClassFatal, "Invalid Base64 signature from connector"},
	UnexpectedHTTPStatus:     {UnexpectedHTTPStatus, ClassFatal, "Wrong HTTP status code"},
	ConfigReadFailed:         {ConfigReadFailed, ClassFatal, "Read config failed"},
	TransportPinActive:       {TransportPinActive, ClassWarning, "Transport PIN is still active; change the PIN first"},
	CardSessionBusy:          {CardSessionBusy, ClassWarning, "An authentication with this card type is already in progress"},

	PlaceCards: {PlaceCards, ClassHint, "Please place the cards"},
	EnterPin:   {EnterPin, ClassHint, "Please enter the PIN"},
}

// faults maps connector fault codes to catalog codes.
var faults = map[string]Code{
	"4004": ConnectorInvalidMandant,
	"4005": ConnectorInvalidClientSystem,
	"4006": ConnectorInvalidWorkplace,
	"4010": ConnectorClientNotAssigned,
	"4011": ConnectorWorkplaceNotAssigned,
	"4012": ConnectorTerminalNotAssigned,
	"4014": ConnectorWorkplaceClientMismatch,
	"4015": ConnectorTerminalUnreachable,
	"4016": ConnectorTerminalNotLocal,
	"4018": ConnectorCardHandleExpired,
	"4020": ConnectorTerminalNoWorkplace,
	"4021": ConnectorContextIncomplete,
	"4047": ConnectorCardHandleInvalid,
	"4049": ConnectorPinCancelled,
	"4092": RemotePinUnsupported,
	"4204": ConnectorClientNotAuthenticated,
}

// Connector fault codes the orchestrator raises itself.
const (
	FaultCardHandleInvalid = "4047"
	FaultRemotePin         = "4092"
)

// Lookup returns the catalog entry for code. Unknown codes resolve to the
// unknown-connector-error entry.
func Lookup(code Code) Entry {
	if e, ok := catalog[code]; ok {
		return e
	}
	return catalog[UnknownConnectorError]
}

// Known reports whether code is part of the catalog.
func Known(code Code) bool {
	_, ok := catalog[code]
	return ok
}

// FromFault maps a connector fault code to its catalog code. Unmapped codes
// yield UnknownConnectorError.
func FromFault(faultCode string) Code {
	if c, ok := faults[faultCode]; ok {
		return c
	}
	return UnknownConnectorError
}

// ClassOf returns the class of code.
func ClassOf(code Code) Class {
	return Lookup(code).Class
}
