package export

import (
	"bufio"
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/coder/quartz"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/glimpse/pkg/ledger"
)

var ts = time.Date(2026, 5, 4, 9, 30, 0, 0, time.UTC)

func sampleSnapshot() ledger.Snapshot {
	return ledger.Snapshot{
		PageViews: []ledger.PageView{{
			ID: "pv_1", SessionID: "session_1", Path: "/", Title: "Home",
			DeviceType: "desktop", Browser: "Firefox", OS: "Linux",
			ScreenWidth: 1280, ScreenHeight: 800, Timestamp: ts,
		}},
		Events: []ledger.Event{{
			ID: "evt_1", SessionID: "session_1", Name: "signup",
			Payload: map[string]interface{}{"plan": "pro"}, Path: "/join", Timestamp: ts.Add(time.Minute),
		}},
		Sessions: []ledger.Session{{ID: "session_1", StartedAt: ts, PageCount: 1, IsBounce: true, EntryPath: "/"}},
		Consents: []ledger.ConsentRecord{{ID: "consent_1", Necessary: true, Analytics: true, Timestamp: ts}},
	}
}

func TestParseFormat(t *testing.T) {
	for in, want := range map[string]Format{"": FormatJSON, "JSON": FormatJSON, "ndjson": FormatNDJSON, " csv ": FormatCSV} {
		got, err := ParseFormat(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got)
	}
	_, err := ParseFormat("xml")
	assert.Error(t, err)
}

func TestWrite_JSON(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Write(&buf, sampleSnapshot(), FormatJSON))

	var decoded ledger.Snapshot
	require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))
	assert.Len(t, decoded.PageViews, 1)
	assert.Equal(t, "pro", decoded.Events[0].Payload["plan"])

	buf.Reset()
	require.NoError(t, Write(&buf, ledger.Snapshot{}, FormatJSON))
	assert.Contains(t, buf.String(), `"pageviews": []`)
	assert.NotContains(t, buf.String(), "null")
}

func TestWrite_NDJSON(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Write(&buf, sampleSnapshot(), FormatNDJSON))

	var kinds []string
	scanner := bufio.NewScanner(&buf)
	for scanner.Scan() {
		var line struct {
			Kind   string          `json:"kind"`
			Record json.RawMessage `json:"record"`
		}
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &line))
		kinds = append(kinds, line.Kind)
	}
	assert.Equal(t, []string{"pageviews", "events", "sessions", "consents"}, kinds)
}

func TestWrite_CSV(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Write(&buf, sampleSnapshot(), FormatCSV))

	rows, err := csv.NewReader(&buf).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, csvHeader, rows[0])
	assert.Equal(t, "pageviews", rows[1][0])
	assert.Equal(t, "2026-05-04T09:30:00Z", rows[1][2])
	assert.Equal(t, "1280", rows[1][12])
	assert.Equal(t, "signup", rows[2][5])
	assert.Equal(t, `{"plan":"pro"}`, rows[2][15])
}

func TestWrite_UnknownFormat(t *testing.T) {
	assert.Error(t, Write(io.Discard, ledger.Snapshot{}, Format("xml")))
}

type fakePutter struct {
	input *s3.PutObjectInput
	body  []byte
	err   error
}

func (f *fakePutter) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	f.input = in
	if in.Body != nil {
		f.body, _ = io.ReadAll(in.Body)
	}
	return &s3.PutObjectOutput{}, f.err
}

func TestArchiver_Archive(t *testing.T) {
	mClock := quartz.NewMock(t)
	mClock.Set(ts)
	putter := &fakePutter{}
	a := NewArchiver(putter, "telemetry", "exports/site-a", mClock)

	key, err := a.Archive(context.Background(), sampleSnapshot(), FormatNDJSON)
	require.NoError(t, err)
	assert.Equal(t, "exports/site-a/glimpse-20260504T093000Z.ndjson", key)
	assert.Equal(t, "telemetry", aws.ToString(putter.input.Bucket))
	assert.Equal(t, "application/x-ndjson", aws.ToString(putter.input.ContentType))
	assert.Len(t, putter.input.Metadata["checksum-sha256"], 64)
	assert.Equal(t, 4, strings.Count(string(putter.body), "\n"))
}

func TestArchiver_Errors(t *testing.T) {
	_, err := NewArchiver(&fakePutter{}, "", "", nil).Archive(context.Background(), ledger.Snapshot{}, FormatJSON)
	assert.Error(t, err)

	putter := &fakePutter{err: errors.New("access denied")}
	_, err = NewArchiver(putter, "b", "", quartz.NewMock(t)).Archive(context.Background(), ledger.Snapshot{}, FormatJSON)
	assert.ErrorContains(t, err, "access denied")
}
