package gridfeed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/PaesslerAG/jsonpath"
)

// ErrParse marks a feed document that could not be understood. The poller
// logs it and tries again on the next cycle.
var ErrParse = errors.New("failed to parse feed")

// DemandSource provides national demand (MW) and frequency (Hz).
type DemandSource interface {
	Download(ctx context.Context) ([]byte, error)
	Parse(raw []byte) (demandMW, frequencyHz float64, err error)
}

// JSONDemandFeed reads demand and frequency out of a JSON document using
// JSONPath expressions, e.g. "$.data[-1:].demand".
type JSONDemandFeed struct {
	URL           string
	DemandPath    string
	FrequencyPath string

	downloader *Downloader
}

func NewJSONDemandFeed(url, demandPath, frequencyPath string, d *Downloader) *JSONDemandFeed {
	return &JSONDemandFeed{
		URL:           url,
		DemandPath:    demandPath,
		FrequencyPath: frequencyPath,
		downloader:    d,
	}
}

func (f *JSONDemandFeed) Download(ctx context.Context) ([]byte, error) {
	return f.downloader.Get(ctx, f.URL)
}

func (f *JSONDemandFeed) Parse(raw []byte) (float64, float64, error) {
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return 0, 0, fmt.Errorf("%w: %v", ErrParse, err)
	}

	demand, err := lookupNumber(doc, f.DemandPath)
	if err != nil {
		return 0, 0, err
	}
	freq, err := lookupNumber(doc, f.FrequencyPath)
	if err != nil {
		return 0, 0, err
	}
	return demand, freq, nil
}

func lookupNumber(doc any, path string) (float64, error) {
	v, err := jsonpath.Get(path, doc)
	if err != nil {
		return 0, fmt.Errorf("%w: %q: %v", ErrParse, path, err)
	}
	// slices and wildcards give a list, keep its first element
	if list, ok := v.([]any); ok {
		if len(list) == 0 {
			return 0, fmt.Errorf("%w: %q matched nothing", ErrParse, path)
		}
		v = list[0]
	}

	switch n := v.(type) {
	case float64:
		return n, nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		if err != nil {
			return 0, fmt.Errorf("%w: %q: %q is not a number", ErrParse, path, n)
		}
		return f, nil
	}
	return 0, fmt.Errorf("%w: %q: unexpected %T", ErrParse, path, v)
}
