package stratum

import (
	"reflect"
	"strings"
	"testing"
)

const (
	testPrevHash = "4d16b6f85af6e2198f44ae2a6de67f78487ae5611b77c6c0440b921e00000000"
	testBranch   = "9f8a1b2c3d4e5f60718293a4b5c6d7e8f90a1b2c3d4e5f60718293a4b5c6d7e8"
)

func notifyParams() []any {
	return []any{
		"bf", testPrevHash,
		"01000000010000000000000000000000000000000000000000000000000000000000000000ffffffff20020862062f503253482f04b8864e5008",
		"072f736c7573682f000000000100f2052a010000001976a914d23fcdf86f7e756a64a7a9688ef9903327048ed988ac00000000",
		[]any{testBranch},
		"00000002", "1c2ac4af", "504e86b9", false,
	}
}

func TestParseMessage(t *testing.T) {
	tests := []struct {
		name    string
		data    []byte
		want    *Message
		wantErr bool
	}{
		{
			name: "valid response",
			data: []byte(`{"id":1,"result":true,"error":null}`),
			want: &Message{
				ID:     float64(1), // JSON numbers are parsed as float64
				Result: true,
			},
		},
		{
			name: "error as array",
			data: []byte(`{"id":4,"result":null,"error":[23,"Low difficulty share",null]}`),
			want: &Message{
				ID:    float64(4),
				Error: &Error{Code: ErrorLowDifficulty, Message: "Low difficulty share"},
			},
		},
		{
			name: "error as object",
			data: []byte(`{"id":4,"result":false,"error":{"code":21,"message":"Job not found"}}`),
			want: &Message{
				ID:     float64(4),
				Result: false,
				Error:  &Error{Code: ErrorJobNotFound, Message: "Job not found"},
			},
		},
		{
			name: "valid notification",
			data: []byte(`{"id":null,"method":"mining.set_difficulty","params":[2]}`),
			want: &Message{
				ID:     nil,
				Method: "mining.set_difficulty",
				Params: []any{float64(2)},
			},
		},
		{
			name:    "invalid json",
			data:    []byte(`{invalid json}`),
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseMessage(tt.data)
			if (err != nil) != tt.wantErr {
				t.Errorf("ParseMessage() error = %v, wantErr %v", err, tt.wantErr)
				return
			}
			if !tt.wantErr && !reflect.DeepEqual(got, tt.want) {
				t.Errorf("ParseMessage() = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestParseNotify(t *testing.T) {
	job, err := ParseNotify(notifyParams())
	if err != nil {
		t.Fatalf("ParseNotify() error = %v", err)
	}

	if job.JobID != "bf" || job.PrevHash != testPrevHash || job.Version != "00000002" ||
		job.NBits != "1c2ac4af" || job.NTime != "504e86b9" || job.CleanJobs {
		t.Errorf("ParseNotify() = %+v", job)
	}
	if !reflect.DeepEqual(job.MerkleBranch, []string{testBranch}) {
		t.Errorf("MerkleBranch = %v", job.MerkleBranch)
	}
	if job.ReceivedAt.IsZero() {
		t.Error("ReceivedAt not set")
	}
}

func TestParseNotify_Invalid(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(p []any) []any
	}{
		{"missing clean_jobs", func(p []any) []any { return p[:8] }},
		{"empty job id", func(p []any) []any { p[0] = ""; return p }},
		{"numeric job id", func(p []any) []any { p[0] = float64(7); return p }},
		{"short prevhash", func(p []any) []any { p[1] = "00"; return p }},
		{"odd coinb1", func(p []any) []any { p[2] = "abc"; return p }},
		{"branch not array", func(p []any) []any { p[4] = testBranch; return p }},
		{"branch entry not hash", func(p []any) []any { p[4] = []any{"beef"}; return p }},
		{"version not hex", func(p []any) []any { p[5] = "0000000z"; return p }},
		{"nbits wrong length", func(p []any) []any { p[6] = "1c2ac4"; return p }},
		{"clean_jobs not bool", func(p []any) []any { p[8] = "true"; return p }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := ParseNotify(tt.mutate(notifyParams())); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestParseSubscribeResult(t *testing.T) {
	tests := []struct {
		name     string
		result   any
		wantEN1  string
		wantSize int
		wantErr  bool
	}{
		{
			name:     "full result",
			result:   []any{[]any{[]any{"mining.notify", "ae6812eb4cd7735a302a8a9dd95cf71f"}}, "08000002", float64(4)},
			wantEN1:  "08000002",
			wantSize: 4,
		},
		{
			name:     "size omitted",
			result:   []any{nil, "abcd"},
			wantEN1:  "abcd",
			wantSize: DefaultExtraNonce2Size,
		},
		{
			name:     "custom size",
			result:   []any{nil, "", float64(8)},
			wantEN1:  "",
			wantSize: 8,
		},
		{"not an array", true, "", 0, true},
		{"extranonce1 not hex", []any{nil, "xyz1"}, "", 0, true},
		{"size out of range", []any{nil, "ab", float64(0)}, "", 0, true},
		{"fractional size", []any{nil, "ab", 2.5}, "", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseSubscribeResult(tt.result)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseSubscribeResult() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				return
			}
			if got.ExtraNonce1 != tt.wantEN1 || got.ExtraNonce2Size != tt.wantSize {
				t.Errorf("ParseSubscribeResult() = %+v", got)
			}
		})
	}
}

func TestParseSetDifficulty(t *testing.T) {
	tests := []struct {
		name    string
		params  []any
		want    float64
		wantErr bool
	}{
		{"integer", []any{float64(1024)}, 1024, false},
		{"fractional", []any{0.001}, 0.001, false},
		{"empty", []any{}, 0, true},
		{"string", []any{"8"}, 0, true},
		{"zero", []any{float64(0)}, 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseSetDifficulty(tt.params)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseSetDifficulty() error = %v, wantErr %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("ParseSetDifficulty() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestParseSetExtranonce(t *testing.T) {
	en1, size, err := ParseSetExtranonce([]any{"f000000a", float64(2)})
	if err != nil || en1 != "f000000a" || size != 2 {
		t.Errorf("ParseSetExtranonce() = %q, %d, %v", en1, size, err)
	}

	if _, _, err := ParseSetExtranonce(nil); err == nil {
		t.Error("expected error for missing params")
	}
}

func TestError_Error(t *testing.T) {
	e := &Error{Code: ErrorDuplicateShare, Message: "Duplicate share"}
	if got := e.Error(); !strings.Contains(got, "22") || !strings.Contains(got, "Duplicate share") {
		t.Errorf("Error() = %q", got)
	}
}
