package telephony

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"strings"
)

const xmlContentType = "application/xml"

type bridgeResponse struct {
	XMLName xml.Name   `xml:"Response"`
	Dial    bridgeDial `xml:"Dial"`
}

type bridgeDial struct {
	Sip string `xml:"Sip"`
}

// renderSIPBridge builds the <Response><Dial><Sip> document shared by TwiML and TeXML.
func renderSIPBridge(callID, sipDomain string) (CallDirective, error) {
	callID = strings.TrimSpace(callID)
	if callID == "" || strings.ContainsAny(callID, "@:<>\"' \t\r\n/;") {
		return CallDirective{}, fmt.Errorf("telephony: %w: %q", ErrInvalidCallID, callID)
	}
	if strings.TrimSpace(sipDomain) == "" {
		return CallDirective{}, fmt.Errorf("telephony: sip domain not configured")
	}

	doc := bridgeResponse{Dial: bridgeDial{Sip: fmt.Sprintf("sip:%s@%s", callID, sipDomain)}}

	var buf bytes.Buffer
	buf.WriteString(xml.Header)
	enc := xml.NewEncoder(&buf)
	enc.Indent("", "  ")
	if err := enc.Encode(doc); err != nil {
		return CallDirective{}, fmt.Errorf("telephony: encode bridge: %w", err)
	}
	if err := enc.Flush(); err != nil {
		return CallDirective{}, fmt.Errorf("telephony: flush bridge: %w", err)
	}
	return CallDirective{ContentType: xmlContentType, Body: buf.String()}, nil
}
