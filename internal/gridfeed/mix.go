package gridfeed

import (
	"bytes"
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/tejusbharadwaj/currentcost/internal/models"
)

// MixSource provides the national generation mix.
type MixSource interface {
	Download(ctx context.Context) ([]byte, error)
	Parse(raw []byte) (models.EnergyMix, error)
}

type fuelInst struct {
	XMLName xml.Name `xml:"INST"`
	Fuels   []struct {
		Type string `xml:"TYPE,attr"`
		Pct  string `xml:"PCT,attr"`
	} `xml:"FUEL"`
}

// FuelInstFeed reads the instantaneous generation mix document:
//
//	<INST AT="..." TOTAL="..."><FUEL TYPE="CCGT" IC="N" VAL="14042" PCT="39.0"/>...</INST>
//
// Fuel types outside the known set are added to OTHER.
type FuelInstFeed struct {
	URL string

	downloader *Downloader
}

func NewFuelInstFeed(url string, d *Downloader) *FuelInstFeed {
	return &FuelInstFeed{URL: url, downloader: d}
}

func (f *FuelInstFeed) Download(ctx context.Context) ([]byte, error) {
	return f.downloader.Get(ctx, f.URL)
}

func (f *FuelInstFeed) Parse(raw []byte) (models.EnergyMix, error) {
	doc, err := decodeInst(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrParse, err)
	}
	if len(doc.Fuels) == 0 {
		return nil, fmt.Errorf("%w: no FUEL entries", ErrParse)
	}

	known := make(map[models.Source]bool, len(models.Sources))
	for _, s := range models.Sources {
		known[s] = true
	}

	mix := make(models.EnergyMix, len(doc.Fuels))
	for _, fuel := range doc.Fuels {
		pct, err := strconv.ParseFloat(strings.TrimSpace(fuel.Pct), 64)
		if err != nil {
			return nil, fmt.Errorf("%w: PCT %q for %s", ErrParse, fuel.Pct, fuel.Type)
		}
		src := models.Source(strings.ToUpper(strings.TrimSpace(fuel.Type)))
		if !known[src] || src == models.SourceUnknown {
			src = models.SourceOther
		}
		mix[src] += pct
	}
	return mix, nil
}

// decodeInst finds the first INST element, wherever the feed nests it.
func decodeInst(raw []byte) (*fuelInst, error) {
	dec := xml.NewDecoder(bytes.NewReader(raw))
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			return nil, errors.New("no INST element")
		}
		if err != nil {
			return nil, err
		}
		if se, ok := tok.(xml.StartElement); ok && se.Name.Local == "INST" {
			var inst fuelInst
			if err := dec.DecodeElement(&inst, &se); err != nil {
				return nil, err
			}
			return &inst, nil
		}
	}
}
