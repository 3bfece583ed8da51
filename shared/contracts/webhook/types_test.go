package webhook

import (
	"encoding/json"
	"testing"
	"time"
)

func TestEpochSeconds_UnmarshalNeverFails(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name  string
		in    string
		want  int64
		valid bool
	}{
		{name: "string", in: `"1754400000"`, want: 1754400000, valid: true},
		{name: "number", in: `1754400000`, want: 1754400000, valid: true},
		{name: "decimal_string", in: `"1754400010.5"`, want: 1754400010, valid: true},
		{name: "decimal_number", in: `1754400010.9`, want: 1754400010, valid: true},
		{name: "padded_string", in: `"  42abc"`, want: 42, valid: true},
		{name: "negative", in: `"-5"`, want: -5, valid: true},
		{name: "empty", in: `""`},
		{name: "null", in: `null`},
		{name: "word", in: `"soon"`},
		{name: "object", in: `{"when":"now"}`},
		{name: "bool", in: `true`},
		{name: "overflow", in: `1e30`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			var e EpochSeconds
			if err := json.Unmarshal([]byte(tc.in), &e); err != nil {
				t.Fatalf("unmarshal %s: %v", tc.in, err)
			}
			if e.Valid != tc.valid || e.Seconds != tc.want {
				t.Fatalf("got %+v want seconds=%d valid=%v", e, tc.want, tc.valid)
			}
		})
	}
}

func TestStatus_BadTimestampKeepsSiblings(t *testing.T) {
	t.Parallel()

	raw := `{"statuses":[{"id":"a","status":"read","timestamp":"later"},{"id":"b","status":"read","timestamp":"7"}]}`
	var v Value
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(v.Statuses) != 2 {
		t.Fatalf("expected both statuses, got %d", len(v.Statuses))
	}
	if v.Statuses[0].Timestamp.Valid || v.Statuses[0].Timestamp.Raw != "later" {
		t.Fatalf("unexpected first timestamp: %+v", v.Statuses[0].Timestamp)
	}
	if !v.Statuses[1].Timestamp.Valid || v.Statuses[1].Timestamp.Seconds != 7 {
		t.Fatalf("unexpected second timestamp: %+v", v.Statuses[1].Timestamp)
	}
}

func TestEpochSeconds_MarshalProviderForm(t *testing.T) {
	t.Parallel()

	b, err := json.Marshal(At(time.Unix(1754400000, 999).UTC()))
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if string(b) != `"1754400000"` {
		t.Fatalf("got %s", b)
	}
	if b, _ := json.Marshal(EpochSeconds{}); string(b) != `""` {
		t.Fatalf("invalid value should marshal empty, got %s", b)
	}
}
