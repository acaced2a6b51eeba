package zonemap

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"testing"

	"github.com/cockroachdb/datadriven"
)

// parseZoneArg parses a "zone=(col:min,max)" directive argument into a Map
// with int64 bounds, the only type this golden file exercises.
func parseZoneArg(arg datadriven.CmdArg) (Map, error) {
	if len(arg.Vals) != 1 {
		return nil, fmt.Errorf("zone: expected one value, got %v", arg.Vals)
	}
	spec := strings.Trim(arg.Vals[0], "()")
	parts := strings.SplitN(spec, ":", 2)
	if len(parts) != 2 {
		return nil, fmt.Errorf("zone: malformed spec %q", spec)
	}
	bounds := strings.Split(parts[1], ",")
	if len(bounds) != 2 {
		return nil, fmt.Errorf("zone: malformed bounds %q", parts[1])
	}
	min, err := strconv.ParseInt(bounds[0], 10, 64)
	if err != nil {
		return nil, err
	}
	max, err := strconv.ParseInt(bounds[1], 10, 64)
	if err != nil {
		return nil, err
	}
	return Map{parts[0]: {Min: min, Max: max}}, nil
}

func TestCanSkipDataDriven(t *testing.T) {
	datadriven.RunTest(t, "testdata/canskip", func(t *testing.T, d *datadriven.TestData) string {
		switch d.Cmd {
		case "canskip":
			var zones Map
			for _, arg := range d.CmdArgs {
				if arg.Key == "zone" {
					z, err := parseZoneArg(arg)
					if err != nil {
						t.Fatal(err)
					}
					zones = z
				}
			}
			var filter Filter
			if err := json.Unmarshal([]byte(d.Input), &filter); err != nil {
				t.Fatal(err)
			}
			if CanSkip(zones, filter) {
				return "skip\n"
			}
			return "keep\n"
		default:
			t.Fatalf("unknown directive %q", d.Cmd)
			return ""
		}
	})
}
