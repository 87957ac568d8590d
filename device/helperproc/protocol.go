package helperproc

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/arloliu/radbridge/telemetry"
)

// Message types emitted by the helper, one JSON object per line.
const (
	TypeConnected = "connected"
	TypeRealtime  = "realtime"
	TypeRare      = "rare"
	TypeSpectrum  = "spectrum"
	TypeError     = "error"
)

// Request commands written to the helper's stdin.
const (
	CmdSpectrum = "spectrum"
)

type header struct {
	Type string `json:"type"`
	// Name is the driver's own record type name, used for histograms.
	Name  string `json:"name,omitempty"`
	Error string `json:"error,omitempty"`
}

type wireSpectrum struct {
	DurationS float64 `json:"duration_s"`
	A0        float64 `json:"a0"`
	A1        float64 `json:"a1"`
	A2        float64 `json:"a2"`
	Counts    []int   `json:"counts"`
}

type request struct {
	Cmd string `json:"cmd"`
}

// decodeLine parses one helper line into its header and, for data lines, a record.
func decodeLine(line []byte, now time.Time) (header, telemetry.Record, error) {
	var h header
	if err := json.Unmarshal(line, &h); err != nil {
		return h, telemetry.Record{}, fmt.Errorf("decode helper line: %w", err)
	}

	rec := telemetry.Record{Kind: telemetry.ParseKind(h.Type), Type: h.Name}
	if rec.Type == "" {
		rec.Type = h.Type
	}

	switch rec.Kind {
	case telemetry.KindRealtime:
		var rt telemetry.RealtimeData
		if err := json.Unmarshal(line, &rt); err != nil {
			return h, rec, fmt.Errorf("decode realtime record: %w", err)
		}
		rt.Timestamp = now
		rec.Realtime = &rt

	case telemetry.KindRare:
		var rare telemetry.RareData
		if err := json.Unmarshal(line, &rare); err != nil {
			return h, rec, fmt.Errorf("decode rare record: %w", err)
		}
		rare.Timestamp = now
		rec.Rare = &rare

	case telemetry.KindSpectrum:
		var ws wireSpectrum
		if err := json.Unmarshal(line, &ws); err != nil {
			return h, rec, fmt.Errorf("decode spectrum: %w", err)
		}
		rec.Spectrum = &telemetry.Spectrum{
			Duration: time.Duration(ws.DurationS * float64(time.Second)),
			A0:       ws.A0,
			A1:       ws.A1,
			A2:       ws.A2,
			Counts:   ws.Counts,
		}

	case telemetry.KindOther:
	}

	return h, rec, nil
}

func encodeRequest(cmd string) ([]byte, error) {
	b, err := json.Marshal(request{Cmd: cmd})
	if err != nil {
		return nil, err
	}

	return append(b, '\n'), nil
}
