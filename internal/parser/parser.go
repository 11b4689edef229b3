// Package parser turns raw meter payloads into kilowatt readings.
package parser

import (
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrInvalid marks a payload that is not a usable live reading. The caller
// drops it and keeps reading.
var ErrInvalid = errors.New("invalid payload")

// Parser converts one raw update into a reading in kW.
type Parser interface {
	Parse(raw []byte) (float64, error)
}

type channel struct {
	Watts string `xml:"watts"`
}

type ccMessage struct {
	XMLName xml.Name  `xml:"msg"`
	Source  string    `xml:"src"`
	Temp    string    `xml:"tmpr"`
	History *struct{} `xml:"hist"`
	Ch1     *channel  `xml:"ch1"`
	Ch2     *channel  `xml:"ch2"`
	Ch3     *channel  `xml:"ch3"`
}

// CurrentCostXML parses the XML messages written by the meter, such as
//
//	<msg><src>CC128-v0.11</src><ch1><watts>00345</watts></ch1></msg>
//
// and returns the sum of every channel in kW. History messages are rejected.
type CurrentCostXML struct{}

func (CurrentCostXML) Parse(raw []byte) (float64, error) {
	var msg ccMessage
	if err := xml.Unmarshal(raw, &msg); err != nil {
		return 0, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	if msg.History != nil {
		return 0, fmt.Errorf("%w: history message", ErrInvalid)
	}

	var watts float64
	found := false
	for _, ch := range []*channel{msg.Ch1, msg.Ch2, msg.Ch3} {
		if ch == nil {
			continue
		}
		w, err := strconv.ParseFloat(strings.TrimSpace(ch.Watts), 64)
		if err != nil {
			return 0, fmt.Errorf("%w: watts %q", ErrInvalid, ch.Watts)
		}
		watts += w
		found = true
	}
	if !found {
		return 0, fmt.Errorf("%w: no channel data", ErrInvalid)
	}
	return watts / 1000, nil
}

// Plain parses a bare watt value, as republished by most MQTT bridges.
type Plain struct{}

func (Plain) Parse(raw []byte) (float64, error) {
	s := strings.TrimSpace(string(raw))
	w, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %q is not a number", ErrInvalid, s)
	}
	return w / 1000, nil
}

// Auto chooses CurrentCostXML or Plain by looking at the payload.
type Auto struct{}

func (Auto) Parse(raw []byte) (float64, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return 0, fmt.Errorf("%w: empty payload", ErrInvalid)
	}
	if trimmed[0] == '<' {
		return CurrentCostXML{}.Parse(trimmed)
	}
	return Plain{}.Parse(trimmed)
}

// ForFormat returns the parser configured by name: xml, plain or auto.
func ForFormat(name string) (Parser, error) {
	switch strings.ToLower(name) {
	case "", "auto":
		return Auto{}, nil
	case "xml":
		return CurrentCostXML{}, nil
	case "plain":
		return Plain{}, nil
	}
	return nil, fmt.Errorf("unknown payload format %q", name)
}
