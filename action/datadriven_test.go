package action

import (
	"fmt"
	"testing"

	"github.com/cockroachdb/datadriven"
)

// TestDecodeDataDriven runs golden-file decode cases, in the same spirit as
// the teacher's query/logictest package: each "decode" directive takes one
// line of raw action JSON on stdin and expects either "ok" or an error
// string as output.
func TestDecodeDataDriven(t *testing.T) {
	datadriven.RunTest(t, "testdata/decode", func(t *testing.T, d *datadriven.TestData) string {
		switch d.Cmd {
		case "decode":
			_, err := Decode([]byte(d.Input))
			if err != nil {
				return fmt.Sprintf("error: %v\n", err)
			}
			return "ok\n"
		default:
			t.Fatalf("unknown directive %q", d.Cmd)
			return ""
		}
	})
}
